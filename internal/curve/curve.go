// Package curve holds the fan response curve: an ordered set of
// temperature/duty-cycle control points and the piecewise-linear
// interpolation over them.
package curve

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"codeberg.org/mutker/thermalctl/internal/errors"
)

// MinPoints is the smallest table that describes a usable curve.
const MinPoints = 2

// ControlPoint maps a temperature in degrees Celsius to a duty cycle in [0,1].
type ControlPoint struct {
	TemperatureC float64 `json:"temperature_c"`
	DutyCycle    float64 `json:"duty_cycle"`
}

// Table is a curve sorted by strictly increasing temperature.
type Table []ControlPoint

var defaultTable = Table{
	{TemperatureC: 20, DutyCycle: 0.1},
	{TemperatureC: 40, DutyCycle: 0.5},
	{TemperatureC: 50, DutyCycle: 0.6},
	{TemperatureC: 60, DutyCycle: 0.7},
	{TemperatureC: 100, DutyCycle: 1.0},
}

// Default returns a fresh copy of the built-in curve.
func Default() Table {
	return defaultTable.Clone()
}

func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)

	return out
}

// Validate rejects tables the interpolator cannot treat as a monotonic curve.
func (t Table) Validate() error {
	errFactory := errors.New()

	if len(t) < MinPoints {
		return errFactory.WithData(ErrInvalidTable, fmt.Sprintf("need at least %d points, got %d", MinPoints, len(t)))
	}
	if len(t) > MaxPoints {
		return errFactory.WithData(ErrInvalidTable, fmt.Sprintf("at most %d points allowed, got %d", MaxPoints, len(t)))
	}

	for i, p := range t {
		if math.IsNaN(p.TemperatureC) || math.IsInf(p.TemperatureC, 0) {
			return errFactory.WithData(ErrInvalidTable, fmt.Sprintf("point %d: temperature is not finite", i))
		}
		if math.IsNaN(p.DutyCycle) || p.DutyCycle < 0 || p.DutyCycle > 1 {
			return errFactory.WithData(ErrInvalidTable, fmt.Sprintf("point %d: duty cycle %v outside [0,1]", i, p.DutyCycle))
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if p.TemperatureC <= prev.TemperatureC {
			return errFactory.WithData(ErrInvalidTable,
				fmt.Sprintf("point %d: temperature %.2f must be greater than %.2f", i, p.TemperatureC, prev.TemperatureC))
		}
		if p.DutyCycle < prev.DutyCycle {
			return errFactory.WithData(ErrInvalidTable,
				fmt.Sprintf("point %d: duty cycle %.3f must not be lower than %.3f", i, p.DutyCycle, prev.DutyCycle))
		}
	}

	return nil
}

// Interpolate maps temperatureC to a duty cycle using table.
//
// A nil or empty table yields 0 instead of an error: the caller gets the
// safe minimum and is expected to have validated the table at load time.
// Temperatures at or below 0°C and NaN yield 0, temperatures below the first point
// are interpolated from the origin, and temperatures at or above the last
// point are clamped to its duty cycle.
func Interpolate(table Table, temperatureC float64) float64 {
	if len(table) == 0 || !(temperatureC > 0) {
		return 0
	}

	first := table[0]
	if temperatureC < first.TemperatureC {
		slope := first.DutyCycle / first.TemperatureC
		return slope * temperatureC
	}

	last := table[len(table)-1]
	if temperatureC >= last.TemperatureC {
		return last.DutyCycle
	}

	for i := 0; i < len(table)-1; i++ {
		current, next := table[i], table[i+1]
		if temperatureC < current.TemperatureC || temperatureC > next.TemperatureC {
			continue
		}

		span := next.TemperatureC - current.TemperatureC
		if span <= 0 {
			return current.DutyCycle
		}
		slope := (next.DutyCycle - current.DutyCycle) / span

		return current.DutyCycle + slope*(temperatureC-current.TemperatureC)
	}

	return 0
}

// ParsePoint parses "temperature:duty", e.g. "40:0.5".
func ParsePoint(s string) (ControlPoint, error) {
	errFactory := errors.New()

	tempStr, dutyStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ControlPoint{}, errFactory.WithData(ErrInvalidPoint, s)
	}

	temp, err := strconv.ParseFloat(tempStr, 64)
	if err != nil {
		return ControlPoint{}, errFactory.Wrap(ErrInvalidPoint, err).WithData(s)
	}
	duty, err := strconv.ParseFloat(dutyStr, 64)
	if err != nil {
		return ControlPoint{}, errFactory.Wrap(ErrInvalidPoint, err).WithData(s)
	}

	return ControlPoint{TemperatureC: temp, DutyCycle: duty}, nil
}

// ParseTable parses and validates a list of "temperature:duty" pairs.
func ParseTable(args []string) (Table, error) {
	table := make(Table, 0, len(args))
	for _, arg := range args {
		p, err := ParsePoint(arg)
		if err != nil {
			return nil, err
		}
		table = append(table, p)
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	return table, nil
}
