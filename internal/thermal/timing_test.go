package thermal_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalRegardlessOfState(t *testing.T) {
	states := []*thermal.State{
		thermal.NewState(),
		{StableReadingCount: 50, LastTemperatureC: 95, LastDutyCycle: 1},
		{SleepModeActive: true},
	}

	for _, s := range states {
		interval, emergency := thermal.ComputeNextInterval(s, 95, 1)
		assert.Equal(t, time.Second, interval)
		assert.True(t, emergency)
		assert.True(t, s.EmergencyActive)
		assert.Equal(t, thermal.ModeCritical, s.Mode)
	}
}

func TestEmergency(t *testing.T) {
	s := &thermal.State{SleepModeActive: true, StableReadingCount: 20}

	interval, emergency := thermal.ComputeNextInterval(s, 85, 0.9)
	assert.Equal(t, 2*time.Second, interval)
	assert.True(t, emergency)
	assert.Equal(t, thermal.ModeEmergency, s.Mode)
}

func TestThresholdBoundaries(t *testing.T) {
	interval, emergency := thermal.ComputeNextInterval(thermal.NewState(), 90, 1)
	assert.Equal(t, thermal.MinInterval, interval)
	assert.True(t, emergency)

	interval, emergency = thermal.ComputeNextInterval(thermal.NewState(), 80, 0.9)
	assert.Equal(t, thermal.EmergencyInterval, interval)
	assert.True(t, emergency)

	s := &thermal.State{LastTemperatureC: 79.9, LastDutyCycle: 0.9, EmergencyActive: true}
	interval, emergency = thermal.ComputeNextInterval(s, 79.9, 0.9)
	assert.Equal(t, thermal.NormalInterval, interval)
	assert.False(t, emergency)
	assert.False(t, s.EmergencyActive)
}

func TestStableAfterTenReadings(t *testing.T) {
	s := thermal.NewState()
	// Prime the history so the first counted call starts from a known reading.
	s.LastTemperatureC = 45
	s.LastDutyCycle = 0.55

	for i := 0; i < 10; i++ {
		interval, _ := thermal.ComputeNextInterval(s, 45+float64(i%2)*0.5, 0.55)
		if i < 9 {
			require.Equal(t, thermal.NormalInterval, interval, "call %d", i+1)
		}
	}
	require.Equal(t, uint32(10), s.StableReadingCount)

	interval, emergency := thermal.ComputeNextInterval(s, 45.2, 0.56)
	assert.Equal(t, 30*time.Second, interval)
	assert.False(t, emergency)
	assert.Equal(t, thermal.ModeStable, s.Mode)
}

func TestStabilityResetsOnLargeChange(t *testing.T) {
	s := &thermal.State{LastTemperatureC: 50, LastDutyCycle: 0.6, StableReadingCount: 15}

	interval, _ := thermal.ComputeNextInterval(s, 53, 0.63)
	assert.Equal(t, uint32(0), s.StableReadingCount)
	assert.Equal(t, thermal.NormalInterval, interval)

	s.StableReadingCount = 15
	interval, _ = thermal.ComputeNextInterval(s, 53.5, 0.7)
	assert.Equal(t, uint32(0), s.StableReadingCount, "duty change alone resets stability")
	assert.Equal(t, thermal.NormalInterval, interval)
}

func TestRapidChange(t *testing.T) {
	s := &thermal.State{LastTemperatureC: 40, LastDutyCycle: 0.5}

	interval, emergency := thermal.ComputeNextInterval(s, 46, 0.56)
	assert.Equal(t, 5*time.Second, interval)
	assert.False(t, emergency)
	assert.Equal(t, thermal.ModeRapid, s.Mode)
}

func TestSleepModeIgnoresStability(t *testing.T) {
	for _, count := range []uint32{0, 3, 10, 500} {
		s := &thermal.State{SleepModeActive: true, StableReadingCount: count, LastTemperatureC: 20}

		interval, emergency := thermal.ComputeNextInterval(s, 70, 0.8)
		assert.Equal(t, 5*time.Minute, interval)
		assert.False(t, emergency)
		assert.Equal(t, count, s.StableReadingCount)
		assert.Equal(t, thermal.ModeSleep, s.Mode)
	}
}

func TestLastValuesAlwaysRecorded(t *testing.T) {
	cases := []struct {
		sleep bool
		temp  float64
		duty  float64
	}{
		{false, 95, 1},
		{false, 82, 0.92},
		{true, 40, 0.5},
		{false, 41, 0.51},
	}

	s := thermal.NewState()
	for _, c := range cases {
		s.SleepModeActive = c.sleep
		thermal.ComputeNextInterval(s, c.temp, c.duty)
		assert.Equal(t, c.temp, s.LastTemperatureC)
		assert.Equal(t, c.duty, s.LastDutyCycle)
	}
}

func TestIsEmergency(t *testing.T) {
	assert.False(t, thermal.IsEmergency(79.99))
	assert.True(t, thermal.IsEmergency(80))
	assert.True(t, thermal.IsEmergency(120))
}

func TestNewStateStartsNormal(t *testing.T) {
	s := thermal.NewState()
	assert.Equal(t, thermal.ModeNormal, s.Mode)
	assert.Zero(t, s.StableReadingCount)
	assert.False(t, s.EmergencyActive)
}
