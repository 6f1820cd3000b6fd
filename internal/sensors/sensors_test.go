package sensors

import (
	"context"
	"io"
	"testing"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(stats []host.TemperatureStat, err error) readFunc {
	return func(context.Context) ([]host.TemperatureStat, error) {
		return stats, err
	}
}

var sample = []host.TemperatureStat{
	{SensorKey: "acpitz_input", Temperature: 27.8},
	{SensorKey: "coretemp_package_id_0_input", Temperature: 52},
	{SensorKey: "nvme_composite_input", Temperature: 41},
}

func TestHottestSensorByDefault(t *testing.T) {
	h := NewHost("")
	h.read = fixed(sample, nil)

	temp, err := h.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 52.0, temp)
}

func TestSensorByKey(t *testing.T) {
	h := NewHost("NVMe")
	h.read = fixed(sample, nil)

	temp, err := h.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41.0, temp)
}

func TestMissingKey(t *testing.T) {
	h := NewHost("k10temp")
	h.read = fixed(sample, nil)

	_, err := h.ReadTemperature(context.Background())
	assert.True(t, errors.HasCode(err, ErrSensorMissing))
}

func TestPartialResultsAreUsed(t *testing.T) {
	h := NewHost("acpitz")
	h.read = fixed(sample[:1], io.ErrUnexpectedEOF)

	temp, err := h.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 27.8, temp)
}

func TestReadFailure(t *testing.T) {
	h := NewHost("")
	h.read = fixed(nil, io.ErrUnexpectedEOF)

	_, err := h.ReadTemperature(context.Background())
	assert.True(t, errors.HasCode(err, ErrReadFailed))

	h.read = fixed(nil, nil)
	_, err = h.ReadTemperature(context.Background())
	assert.True(t, errors.HasCode(err, ErrNoSensors))
}
