// Package thermal decides how urgently the control loop polls the sensor.
package thermal

import (
	"math"
	"time"
)

const (
	CriticalTemperatureC  = 90.0
	EmergencyTemperatureC = 80.0

	// Below both thresholds a reading counts as stable.
	StableTemperatureDelta = 2.0
	StableDutyCycleDelta   = 0.05
	// Temperature changes at or above this poll at the rapid interval.
	RapidTemperatureDelta = 2 * StableTemperatureDelta

	StableReadingsForSlowdown = 10
)

const (
	MinInterval       = 1 * time.Second
	EmergencyInterval = 2 * MinInterval
	NormalInterval    = 10 * time.Second
	RapidInterval     = NormalInterval / 2
	LongInterval      = 30 * time.Second
	SleepModeInterval = 5 * time.Minute
)

// Mode names the branch that picked the interval.
type Mode string

const (
	ModeCritical  Mode = "critical"
	ModeEmergency Mode = "emergency"
	ModeSleep     Mode = "sleep"
	ModeStable    Mode = "stable"
	ModeNormal    Mode = "normal"
	ModeRapid     Mode = "rapid"
)

// State is the timing controller's memory between iterations. It is owned
// by a single control loop and must not be shared.
type State struct {
	LastTemperatureC   float64
	LastDutyCycle      float64
	StableReadingCount uint32
	EmergencyActive    bool
	SleepModeActive    bool
	Mode               Mode
}

// NewState returns the state of a controller that has not polled yet.
func NewState() *State {
	return &State{Mode: ModeNormal}
}

// IsEmergency reports whether temperatureC requires emergency handling.
func IsEmergency(temperatureC float64) bool {
	return temperatureC >= EmergencyTemperatureC
}

// ComputeNextInterval picks the next poll interval for the current reading
// and records the reading in s. The first matching rule wins: critical,
// emergency, host sleep, then stability tracking.
func ComputeNextInterval(s *State, temperatureC, dutyCycle float64) (time.Duration, bool) {
	defer func() {
		s.LastTemperatureC = temperatureC
		s.LastDutyCycle = dutyCycle
	}()

	switch {
	case temperatureC >= CriticalTemperatureC:
		s.EmergencyActive = true
		s.Mode = ModeCritical
		return MinInterval, true
	case IsEmergency(temperatureC):
		s.EmergencyActive = true
		s.Mode = ModeEmergency
		return EmergencyInterval, true
	}

	s.EmergencyActive = false

	if s.SleepModeActive {
		s.Mode = ModeSleep
		return SleepModeInterval, false
	}

	tempChange := math.Abs(temperatureC - s.LastTemperatureC)
	dutyChange := math.Abs(dutyCycle - s.LastDutyCycle)

	if tempChange < StableTemperatureDelta && dutyChange < StableDutyCycleDelta {
		if s.StableReadingCount < math.MaxUint32 {
			s.StableReadingCount++
		}
	} else {
		s.StableReadingCount = 0
	}

	switch {
	case s.StableReadingCount >= StableReadingsForSlowdown:
		s.Mode = ModeStable
		return LongInterval, false
	case tempChange < RapidTemperatureDelta:
		s.Mode = ModeNormal
		return NormalInterval, false
	default:
		s.Mode = ModeRapid
		return RapidInterval, false
	}
}
