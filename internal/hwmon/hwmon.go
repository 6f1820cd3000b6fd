// Package hwmon reads temperatures from and drives PWM fans through the
// Linux hwmon sysfs interface.
package hwmon

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/controller"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
)

const (
	millidegrees = 1000.0
	maxPwm       = 255

	pwmEnableManual = "1"
	// Most drivers treat 2 as automatic; used when the previous mode is unknown.
	pwmEnableAuto = "2"
)

// Sensor reads a tempN_input file, which holds millidegrees Celsius.
type Sensor struct {
	path string
}

func NewSensor(path string) *Sensor {
	return &Sensor{path: path}
}

func (s *Sensor) ReadTemperature(context.Context) (float64, error) {
	value, err := readInt(s.path)
	if err != nil {
		return 0, errors.New().Wrap(ErrReadTemperature, err)
	}

	return float64(value) / millidegrees, nil
}

// PwmActuator drives a pwmN file. Opening it switches pwmN_enable to
// manual; closing restores whatever mode was there before.
type PwmActuator struct {
	path   string
	logger logger.Logger
}

func NewPwmActuator(path string, log logger.Logger) *PwmActuator {
	if log == nil {
		log = logger.Get()
	}
	return &PwmActuator{path: path, logger: log}
}

func (a *PwmActuator) enablePath() string {
	return a.path + "_enable"
}

func (a *PwmActuator) Open() (controller.Fan, error) {
	errFactory := errors.New()

	previous := pwmEnableAuto
	if raw, err := os.ReadFile(a.enablePath()); err == nil {
		previous = strings.TrimSpace(string(raw))
	} else {
		a.logger.Warn().Err(err).Str("path", a.enablePath()).Msg("Unable to read PWM mode, will restore automatic mode")
	}

	if err := writeValue(a.enablePath(), pwmEnableManual); err != nil {
		return nil, errFactory.Wrap(ErrPwmEnable, err)
	}

	a.logger.Debug().Str("path", a.path).Str("previous_mode", previous).Msg("PWM switched to manual mode")

	return &pwmFan{actuator: a, previous: previous}, nil
}

type pwmFan struct {
	actuator *PwmActuator
	previous string
	mu       sync.Mutex
	closed   bool
}

func (f *pwmFan) SetDutyCycle(duty float64) error {
	errFactory := errors.New()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errFactory.WithData(errors.ErrInvalidOperation, "fan handle closed")
	}
	if math.IsNaN(duty) || duty < 0 || duty > 1 {
		return errFactory.WithData(errors.ErrInvalidArgument, "duty cycle out of range")
	}

	pwm := int(math.Round(duty * maxPwm))
	if err := writeValue(f.actuator.path, strconv.Itoa(pwm)); err != nil {
		return errFactory.Wrap(ErrWritePwm, err)
	}

	return nil
}

func (f *pwmFan) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if err := writeValue(f.actuator.enablePath(), f.previous); err != nil {
		return errors.New().Wrap(ErrPwmEnable, err)
	}

	return nil
}

func readInt(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, errors.New().Wrap(ErrParseValue, err)
	}

	return value, nil
}

func writeValue(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
