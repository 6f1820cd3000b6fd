package controller

import (
	"context"

	"codeberg.org/mutker/thermalctl/internal/thermal"
)

// Sensor reads the temperature that drives the fan curve.
type Sensor interface {
	// ReadTemperature returns the current temperature in degrees Celsius.
	ReadTemperature(ctx context.Context) (float64, error)
}

// Actuator hands out an exclusive handle to the fan.
type Actuator interface {
	Open() (Fan, error)
}

// Fan is an open actuator handle.
type Fan interface {
	// SetDutyCycle drives the fan at duty, a fraction in [0,1].
	SetDutyCycle(duty float64) error
	Close() error
}

// HostPowerState reports whether the host is suspended. Implementations
// that cannot tell should always return false.
type HostPowerState interface {
	IsSuspended() bool
}

// Recorder receives every iteration's snapshot. Errors are logged and
// never stop the loop.
type Recorder interface {
	Record(ctx context.Context, snapshot *thermal.Snapshot) error
}

type awake struct{}

func (awake) IsSuspended() bool { return false }

// NopActuator never touches hardware; the loop runs in monitor mode.
type NopActuator struct{}

func (NopActuator) Open() (Fan, error) { return nopFan{}, nil }

type nopFan struct{}

func (nopFan) SetDutyCycle(float64) error { return nil }
func (nopFan) Close() error               { return nil }
