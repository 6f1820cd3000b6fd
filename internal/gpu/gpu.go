// Package gpu drives an NVIDIA card through NVML: the core temperature is
// the sensor and the card's fans are the actuator.
package gpu

import (
	"context"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/controller"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Backend shares one NVML session between the sensor and the actuator.
// NVML is initialised on first use and shut down when the last user
// releases it.
type Backend struct {
	lib    library
	index  int
	uuid   string
	logger logger.Logger

	mu         sync.Mutex
	refs       int
	device     device
	sensorHeld bool
}

type Option func(*Backend)

// WithDeviceIndex selects the card by NVML index. Defaults to 0.
func WithDeviceIndex(index int) Option {
	return func(b *Backend) {
		b.index = index
	}
}

// WithDeviceUUID selects the card by UUID and takes precedence over the index.
func WithDeviceUUID(uuid string) Option {
	return func(b *Backend) {
		b.uuid = uuid
	}
}

func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		lib:    nvmlLibrary{},
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) acquire() error {
	errFactory := errors.New()

	if b.refs > 0 {
		b.refs++
		return nil
	}

	if ret := b.lib.Init(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	var (
		dev device
		ret nvml.Return
	)
	if b.uuid != "" {
		dev, ret = b.lib.DeviceByUUID(b.uuid)
	} else {
		dev, ret = b.lib.DeviceByIndex(b.index)
	}
	if !IsNVMLSuccess(ret) {
		b.lib.Shutdown()
		return errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	if name, ret := dev.GetName(); IsNVMLSuccess(ret) {
		b.logger.Info().Str("gpu", name).Msg("Detected GPU")
	} else {
		b.logger.Warn().Str("error", nvml.ErrorString(ret)).Msg("Failed to get GPU name")
	}

	b.device = dev
	b.refs = 1

	return nil
}

func (b *Backend) release() error {
	if b.refs == 0 {
		return nil
	}
	b.refs--
	if b.refs > 0 {
		return nil
	}

	b.device = nil
	if ret := b.lib.Shutdown(); !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	return nil
}

// ReadTemperature implements controller.Sensor. The first call opens NVML
// and keeps it open until Close.
func (b *Backend) ReadTemperature(context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sensorHeld {
		if err := b.acquire(); err != nil {
			return 0, err
		}
		b.sensorHeld = true
	}

	temp, ret := b.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	return float64(temp), nil
}

// Open implements controller.Actuator. It takes manual control of every
// fan on the card; closing the handle hands them back to the driver.
func (b *Backend) Open() (controller.Fan, error) {
	errFactory := errors.New()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.acquire(); err != nil {
		return nil, err
	}

	count, ret := b.device.GetNumFans()
	if !IsNVMLSuccess(ret) {
		b.release()
		return nil, errFactory.Wrap(ErrFanCountFailed, newNVMLError(ret))
	}
	if count == 0 {
		b.release()
		return nil, errFactory.New(ErrNoFans)
	}

	minSpeed, maxSpeed, ret := b.device.GetMinMaxFanSpeed()
	if !IsNVMLSuccess(ret) {
		b.release()
		return nil, errFactory.Wrap(ErrGetFanLimitsFailed, newNVMLError(ret))
	}

	limits := FanSpeedLimits{Min: minSpeed, Max: maxSpeed}
	b.logger.Debug().Int("fans", count).Int("min_percent", minSpeed).Int("max_percent", maxSpeed).Msg("Detected fans")

	return newFanController(b, b.device, count, limits), nil
}

// Close releases the sensor's hold on NVML.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sensorHeld {
		return nil
	}
	b.sensorHeld = false

	return b.release()
}
