// Package controller runs the closed thermal loop: read the sensor, map the
// temperature through the fan curve, drive the fan, and sleep for as long
// as the thermal situation allows.
package controller

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/thermalctl/internal/curve"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/thermal"
)

const (
	// HysteresisBand is the smallest duty cycle change worth sending to the fan.
	HysteresisBand = 0.02
	// SleepFloorDutyCycle is the target above which the fan keeps being
	// driven while the host is suspended.
	SleepFloorDutyCycle = 0.1
)

type waitFunc func(ctx context.Context, stop <-chan struct{}, d time.Duration) bool

// Controller owns the curve table and thermal state for the lifetime of one run.
type Controller struct {
	table     curve.Table
	sensor    Sensor
	actuator  Actuator
	power     HostPowerState
	recorders []Recorder
	logger    logger.Logger
	wait      waitFunc
	now       func() time.Time

	// loop-owned
	state       *thermal.State
	lastApplied float64
	hasApplied  bool

	flags    Flags
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	latest   atomic.Pointer[thermal.Snapshot]
}

type Option func(*Controller)

func WithHostPowerState(p HostPowerState) Option {
	return func(c *Controller) {
		if p != nil {
			c.power = p
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder adds a snapshot consumer, e.g. telemetry or the status hub.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorders = append(c.recorders, r)
		}
	}
}

// New prepares a controller for table. The table is copied and validated;
// the controller does not touch hardware until Start.
func New(table curve.Table, sensor Sensor, actuator Actuator, opts ...Option) (*Controller, error) {
	errFactory := errors.New()

	if sensor == nil {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, "nil sensor")
	}
	if actuator == nil {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, "nil actuator")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		table:    table.Clone(),
		sensor:   sensor,
		actuator: actuator,
		power:    awake{},
		logger:   logger.Get(),
		wait:     waitInterval,
		now:      time.Now,
		state:    thermal.NewState(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Table returns a copy of the curve in use.
func (c *Controller) Table() curve.Table {
	return c.table.Clone()
}

// Flags exposes the atomically shared stop, emergency and sleep flags.
func (c *Controller) Flags() *Flags {
	return &c.flags
}

// Snapshot returns the latest iteration result, or nil before the first one.
func (c *Controller) Snapshot() *thermal.Snapshot {
	return c.latest.Load()
}

// Start opens the actuator and launches the loop goroutine. An actuator
// that cannot be opened is returned as ErrActuatorOpen; there is no
// degraded mode without a fan, so callers should treat it as fatal.
func (c *Controller) Start(ctx context.Context) error {
	errFactory := errors.New()

	if !c.started.CompareAndSwap(false, true) {
		return errFactory.New(ErrAlreadyStarted)
	}

	fan, err := c.actuator.Open()
	if err != nil {
		close(c.done)
		return errFactory.Wrap(ErrActuatorOpen, err)
	}

	c.logger.Info().Int("points", len(c.table)).Msg("Fan controller started")

	go c.loop(ctx, fan)

	return nil
}

// RequestStop asks the loop to exit. It returns immediately; the loop
// notices during its current wait and any in-flight actuation completes.
func (c *Controller) RequestStop() {
	c.flags.stop.Store(true)
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// AwaitStopped blocks until the loop has exited and the fan handle is closed.
func (c *Controller) AwaitStopped() {
	<-c.done
}

// Done is closed once the controller has fully stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run starts the controller and blocks until ctx is cancelled or
// RequestStop is called.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		c.RequestStop()
	case <-c.done:
	}
	c.AwaitStopped()

	return nil
}

func (c *Controller) loop(ctx context.Context, fan Fan) {
	defer close(c.done)
	defer c.shutdown(fan)

	for !c.flags.StopRequested() && ctx.Err() == nil {
		interval := c.iterate(ctx, fan)
		if !c.wait(ctx, c.stopCh, interval) {
			return
		}
	}
}

func (c *Controller) shutdown(fan Fan) {
	c.logger.Info().Msg("Shutting down fan controller")

	if err := fan.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to close fan")
	}

	c.flags.emergency.Store(false)
	c.flags.sleepMode.Store(false)

	c.logger.Info().Msg("Fan controller stopped")
}

func (c *Controller) iterate(ctx context.Context, fan Fan) time.Duration {
	errFactory := errors.New()

	sleepMode := c.power.IsSuspended()
	c.state.SleepModeActive = sleepMode
	c.flags.sleepMode.Store(sleepMode)

	var readErr errors.Error
	temperature, err := c.sensor.ReadTemperature(ctx)
	switch {
	case err != nil:
		readErr = errFactory.Wrap(ErrSensorRead, err)
	case math.IsNaN(temperature) || math.IsInf(temperature, 0):
		readErr = errFactory.WithData(ErrSensorRead, fmt.Sprintf("non-finite reading %v", temperature))
	}
	if readErr != nil {
		c.logger.ErrorWithCode(readErr).
			Dur("retry_in", thermal.NormalInterval).
			Msg("Failed to get temperature")
		c.publish(ctx, &thermal.Snapshot{
			Timestamp:          c.now(),
			SensorFailed:       true,
			AppliedDutyCycle:   c.lastApplied,
			Interval:           thermal.NormalInterval,
			Mode:               c.state.Mode,
			EmergencyActive:    c.state.EmergencyActive,
			SleepModeActive:    sleepMode,
			StableReadingCount: c.state.StableReadingCount,
		})
		return thermal.NormalInterval
	}

	target := curve.Interpolate(c.table, temperature)
	emergency := c.state.EmergencyActive || thermal.IsEmergency(temperature)

	snapshot := &thermal.Snapshot{
		Timestamp:       c.now(),
		TemperatureC:    temperature,
		TargetDutyCycle: target,
		SleepModeActive: sleepMode,
	}

	if c.shouldActuate(target, emergency, sleepMode) {
		snapshot.Actuated = true
		if err := fan.SetDutyCycle(target); err != nil {
			snapshot.ActuationFailed = true
			c.logger.ErrorWithCode(errFactory.Wrap(ErrActuation, err)).
				Float64("duty_cycle", target).
				Msg("Failed to set fan speed")
		} else {
			c.lastApplied = target
			c.hasApplied = true
			c.logger.Info().
				Float64("temperature_c", round1(temperature)).
				Float64("fan_percent", round1(target*100)).
				Bool("sleep_mode", sleepMode).
				Msg("Fan speed set")
		}
	}

	interval, emergencyActive := thermal.ComputeNextInterval(c.state, temperature, target)
	c.flags.emergency.Store(emergencyActive)

	snapshot.AppliedDutyCycle = c.lastApplied
	snapshot.Interval = interval
	snapshot.Mode = c.state.Mode
	snapshot.EmergencyActive = emergencyActive
	snapshot.StableReadingCount = c.state.StableReadingCount

	c.logger.Debug().
		Float64("temperature_c", temperature).
		Float64("target_duty_cycle", target).
		Float64("duty_cycle", c.lastApplied).
		Dur("interval", interval).
		Str("mode", string(snapshot.Mode)).
		Bool("emergency", emergencyActive).
		Bool("sleep_mode", sleepMode).
		Uint32("stable_readings", snapshot.StableReadingCount).
		Msg("Control loop iteration")

	c.publish(ctx, snapshot)

	return interval
}

// shouldActuate applies the hysteresis band. The first target is always
// sent because the fan's physical level is unknown until then.
func (c *Controller) shouldActuate(target float64, emergency, sleepMode bool) bool {
	switch {
	case emergency:
		return true
	case !c.hasApplied:
		return true
	case math.Abs(target-c.lastApplied) > HysteresisBand:
		return true
	case sleepMode && target > SleepFloorDutyCycle:
		return true
	}

	return false
}

func (c *Controller) publish(ctx context.Context, snapshot *thermal.Snapshot) {
	c.latest.Store(snapshot)

	for _, r := range c.recorders {
		if err := r.Record(ctx, snapshot); err != nil {
			c.logger.Warn().Err(errors.New().Wrap(ErrRecord, err)).Msg("Failed to record snapshot")
		}
	}
}

func waitInterval(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
