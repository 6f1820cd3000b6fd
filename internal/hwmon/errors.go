package hwmon

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrReadTemperature = errors.ErrorCode("hwmon_read_failed")
	ErrParseValue      = errors.ErrorCode("hwmon_parse_value_failed")
	ErrPwmEnable       = errors.ErrorCode("hwmon_pwm_enable_failed")
	ErrWritePwm        = errors.ErrorCode("hwmon_write_pwm_failed")
)
