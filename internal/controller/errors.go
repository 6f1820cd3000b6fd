package controller

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrActuatorOpen   = errors.ErrorCode("controller_actuator_open_failed")
	ErrActuation      = errors.ErrorCode("controller_actuation_failed")
	ErrSensorRead     = errors.ErrorCode("controller_sensor_read_failed")
	ErrAlreadyStarted = errors.ErrorCode("controller_already_started")
	ErrRecord         = errors.ErrorCode("controller_record_failed")
)
