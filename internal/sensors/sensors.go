// Package sensors reads temperatures through gopsutil's host sensor list,
// which works on hosts without a fixed hwmon path.
package sensors

import (
	"context"
	"math"
	"strings"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"github.com/shirou/gopsutil/v3/host"
)

const readTimeout = 10 * time.Second

const (
	ErrNoSensors     = errors.ErrorCode("sensors_none_found")
	ErrSensorMissing = errors.ErrorCode("sensors_key_not_found")
	ErrReadFailed    = errors.ErrorCode("sensors_read_failed")
)

type readFunc func(ctx context.Context) ([]host.TemperatureStat, error)

// Host picks one reading out of the host's sensor list on every call.
type Host struct {
	key  string
	read readFunc
}

// NewHost returns a sensor matching key by substring, case-insensitively.
// An empty key selects the hottest sensor.
func NewHost(key string) *Host {
	return &Host{
		key:  strings.ToLower(strings.TrimSpace(key)),
		read: host.SensorsTemperaturesWithContext,
	}
}

func (h *Host) ReadTemperature(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	stats, err := h.read(ctx)
	// gopsutil returns partial results together with warnings.
	if err != nil && len(stats) == 0 {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	temp, ok := h.pick(stats)
	if !ok {
		if h.key == "" {
			return 0, errFactory.New(ErrNoSensors)
		}
		return 0, errFactory.WithData(ErrSensorMissing, h.key)
	}

	return temp, nil
}

func (h *Host) pick(stats []host.TemperatureStat) (float64, bool) {
	best := math.Inf(-1)
	found := false

	for _, s := range stats {
		if math.IsNaN(s.Temperature) {
			continue
		}
		if h.key != "" {
			if strings.Contains(strings.ToLower(s.SensorKey), h.key) {
				return s.Temperature, true
			}
			continue
		}
		if s.Temperature > best {
			best = s.Temperature
			found = true
		}
	}

	return best, found
}
