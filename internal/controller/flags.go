package controller

import "sync/atomic"

// Flags is the state shared between the control loop and whoever stops it.
type Flags struct {
	stop      atomic.Bool
	emergency atomic.Bool
	sleepMode atomic.Bool
}

func (f *Flags) StopRequested() bool {
	return f.stop.Load()
}

func (f *Flags) EmergencyActive() bool {
	return f.emergency.Load()
}

func (f *Flags) SleepModeActive() bool {
	return f.sleepMode.Load()
}
