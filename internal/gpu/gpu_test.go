package gpu

import (
	"context"
	"testing"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	temp       uint32
	tempRet    nvml.Return
	fans       int
	min, max   int
	speeds     map[int]int
	setRet     nvml.Return
	autoFans   []int
	defaultRet nvml.Return
}

func (d *fakeDevice) GetName() (string, nvml.Return) { return "Fake RTX", nvml.SUCCESS }

func (d *fakeDevice) GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return) {
	return d.temp, d.tempRet
}

func (d *fakeDevice) GetNumFans() (int, nvml.Return) { return d.fans, nvml.SUCCESS }

func (d *fakeDevice) GetMinMaxFanSpeed() (int, int, nvml.Return) {
	return d.min, d.max, nvml.SUCCESS
}

func (d *fakeDevice) SetFanSpeed_v2(fan int, speed int) nvml.Return {
	if d.setRet != nvml.SUCCESS {
		return d.setRet
	}
	d.speeds[fan] = speed
	return nvml.SUCCESS
}

func (d *fakeDevice) SetDefaultFanSpeed_v2(fan int) nvml.Return {
	d.autoFans = append(d.autoFans, fan)
	return d.defaultRet
}

type fakeLibrary struct {
	dev       *fakeDevice
	inits     int
	shutdowns int
	initRet   nvml.Return
	lastUUID  string
}

func (l *fakeLibrary) Init() nvml.Return {
	if l.initRet != nvml.SUCCESS {
		return l.initRet
	}
	l.inits++
	return nvml.SUCCESS
}

func (l *fakeLibrary) Shutdown() nvml.Return {
	l.shutdowns++
	return nvml.SUCCESS
}

func (l *fakeLibrary) DeviceByIndex(index int) (device, nvml.Return) {
	if index != 0 {
		return nil, nvml.ERROR_NOT_FOUND
	}
	return l.dev, nvml.SUCCESS
}

func (l *fakeLibrary) DeviceByUUID(uuid string) (device, nvml.Return) {
	l.lastUUID = uuid
	return l.dev, nvml.SUCCESS
}

func newTestBackend(lib *fakeLibrary, opts ...Option) *Backend {
	b := New(append([]Option{WithLogger(logger.Nop())}, opts...)...)
	b.lib = lib
	return b
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{temp: 64, fans: 2, min: 30, max: 100, speeds: map[int]int{}}
}

func TestReadTemperature(t *testing.T) {
	lib := &fakeLibrary{dev: newFakeDevice()}
	b := newTestBackend(lib)

	temp, err := b.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64.0, temp)

	_, err = b.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lib.inits, "NVML stays open between reads")

	require.NoError(t, b.Close())
	assert.Equal(t, 1, lib.shutdowns)
}

func TestReadTemperatureFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.tempRet = nvml.ERROR_GPU_IS_LOST
	b := newTestBackend(&fakeLibrary{dev: dev})

	_, err := b.ReadTemperature(context.Background())
	assert.True(t, errors.HasCode(err, ErrTemperatureReadFailed))
}

func TestInitFailure(t *testing.T) {
	b := newTestBackend(&fakeLibrary{dev: newFakeDevice(), initRet: nvml.ERROR_DRIVER_NOT_LOADED})

	_, err := b.Open()
	assert.True(t, errors.HasCode(err, ErrInitFailed))
}

func TestDeviceNotFound(t *testing.T) {
	lib := &fakeLibrary{dev: newFakeDevice()}
	b := newTestBackend(lib, WithDeviceIndex(3))

	_, err := b.Open()
	assert.True(t, errors.HasCode(err, ErrDeviceNotFound))
	assert.Equal(t, 1, lib.shutdowns)
}

func TestDeviceByUUID(t *testing.T) {
	lib := &fakeLibrary{dev: newFakeDevice()}
	b := newTestBackend(lib, WithDeviceUUID("GPU-1234"))

	_, err := b.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "GPU-1234", lib.lastUUID)
}

func TestFanDutyCycleIsClamped(t *testing.T) {
	dev := newFakeDevice()
	b := newTestBackend(&fakeLibrary{dev: dev})

	fan, err := b.Open()
	require.NoError(t, err)

	require.NoError(t, fan.SetDutyCycle(0.55))
	assert.Equal(t, map[int]int{0: 55, 1: 55}, dev.speeds)

	require.NoError(t, fan.SetDutyCycle(0.1))
	assert.Equal(t, 30, dev.speeds[0], "raised to the driver minimum")

	require.NoError(t, fan.SetDutyCycle(1))
	assert.Equal(t, 100, dev.speeds[1])

	assert.True(t, errors.HasCode(fan.SetDutyCycle(1.5), errors.ErrInvalidArgument))
}

func TestFanSetFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.setRet = nvml.ERROR_NO_PERMISSION
	b := newTestBackend(&fakeLibrary{dev: dev})

	fan, err := b.Open()
	require.NoError(t, err)
	assert.True(t, errors.HasCode(fan.SetDutyCycle(0.5), ErrSetFanSpeed))
}

func TestFanCloseRestoresAuto(t *testing.T) {
	dev := newFakeDevice()
	lib := &fakeLibrary{dev: dev}
	b := newTestBackend(lib)

	_, err := b.ReadTemperature(context.Background())
	require.NoError(t, err)

	fan, err := b.Open()
	require.NoError(t, err)
	assert.Equal(t, 1, lib.inits, "sensor and actuator share NVML")

	require.NoError(t, fan.Close())
	assert.Equal(t, []int{0, 1}, dev.autoFans)
	assert.Equal(t, 0, lib.shutdowns, "sensor still holds NVML")

	require.NoError(t, fan.Close())
	assert.True(t, errors.HasCode(fan.SetDutyCycle(0.5), errors.ErrInvalidOperation))

	require.NoError(t, b.Close())
	assert.Equal(t, 1, lib.shutdowns)
}

func TestOpenWithoutFans(t *testing.T) {
	dev := newFakeDevice()
	dev.fans = 0
	lib := &fakeLibrary{dev: dev}
	b := newTestBackend(lib)

	_, err := b.Open()
	assert.True(t, errors.HasCode(err, ErrNoFans))
	assert.Equal(t, 1, lib.shutdowns)
}
