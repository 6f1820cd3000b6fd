package gpu

import (
	"math"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/errors"
)

type fanController struct {
	backend *Backend
	device  device
	count   int
	limits  FanSpeedLimits
	closed  bool
	mu      sync.Mutex
}

func newFanController(b *Backend, dev device, count int, limits FanSpeedLimits) *fanController {
	return &fanController{
		backend: b,
		device:  dev,
		count:   count,
		limits:  limits,
	}
}

// toPercent maps a duty cycle onto the driver's allowed percentage range.
func (fc *fanController) toPercent(duty float64) int {
	speed := int(math.Round(duty * 100))
	if speed < fc.limits.Min {
		speed = fc.limits.Min
	}
	if fc.limits.Max > 0 && speed > fc.limits.Max {
		speed = fc.limits.Max
	}
	return speed
}

func (fc *fanController) SetDutyCycle(duty float64) error {
	errFactory := errors.New()
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.closed {
		return errFactory.WithData(errors.ErrInvalidOperation, "fan handle closed")
	}
	if math.IsNaN(duty) || duty < 0 || duty > 1 {
		return errFactory.WithData(errors.ErrInvalidArgument, "duty cycle out of range")
	}

	speed := fc.toPercent(duty)
	for i := 0; i < fc.count; i++ {
		if ret := fc.device.SetFanSpeed_v2(i, speed); !IsNVMLSuccess(ret) {
			return errFactory.Wrap(ErrSetFanSpeed, newNVMLError(ret))
		}
	}

	return nil
}

// Close restores automatic fan control and releases NVML.
func (fc *fanController) Close() error {
	errFactory := errors.New()
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.closed {
		return nil
	}
	fc.closed = true

	var restoreErr error
	for i := 0; i < fc.count; i++ {
		if ret := fc.device.SetDefaultFanSpeed_v2(i); !IsNVMLSuccess(ret) && restoreErr == nil {
			restoreErr = errFactory.Wrap(ErrEnableAutoFan, newNVMLError(ret))
		}
	}

	fc.backend.mu.Lock()
	releaseErr := fc.backend.release()
	fc.backend.mu.Unlock()

	if restoreErr != nil {
		return restoreErr
	}
	return releaseErr
}
