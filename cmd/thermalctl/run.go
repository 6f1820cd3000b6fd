package main

import (
	"context"
	"io"
	"os"
	"syscall"

	"codeberg.org/mutker/thermalctl/internal/config"
	"codeberg.org/mutker/thermalctl/internal/controller"
	"codeberg.org/mutker/thermalctl/internal/curve"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/gpu"
	"codeberg.org/mutker/thermalctl/internal/hwmon"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/pid"
	"codeberg.org/mutker/thermalctl/internal/power"
	"codeberg.org/mutker/thermalctl/internal/sensors"
	"codeberg.org/mutker/thermalctl/internal/status"
	"codeberg.org/mutker/thermalctl/internal/telemetry"
	"github.com/oklog/run"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fan control loop until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("log-file", "", "rotated log file, empty string keeps the configured one")
	flags.String("pid-file", "", "pid file guarding against a second instance")
	flags.String("sensor", "", "temperature source: hwmon, nvml or gopsutil")
	flags.String("sensor-path", "", "hwmon temperature file in millidegrees")
	flags.String("sensor-key", "", "gopsutil sensor key substring, hottest sensor when empty")
	flags.String("actuator", "", "fan driver: hwmon, nvml or none")
	flags.String("pwm-path", "", "hwmon pwm file, e.g. /sys/class/hwmon/hwmon2/pwm1")
	flags.Int("gpu-index", 0, "NVML device index")
	flags.String("gpu-uuid", "", "NVML device UUID, overrides the index")
	flags.String("power-state-file", "", "file whose content marks the host as suspended")
	flags.Bool("monitor", false, "read and log only, never drive the fan")
	flags.Bool("telemetry", false, "record every iteration to sqlite")
	flags.String("telemetry-db", "", "telemetry database path")
	flags.Bool("status", false, "serve live status over HTTP")
	flags.String("status-addr", "", "status server listen address")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	if err := logger.Init(logger.Options{Level: level, File: cfg.LogFile, Service: logger.IsService(), Console: os.Stderr}); err != nil {
		logger.Warn().Err(err).Msg("Logging to console only")
	}

	if err := cfg.ValidateBackends(); err != nil {
		return err
	}

	pidPath := cfg.PidFile
	if pidPath == "" {
		pidPath = pid.DefaultPath()
	}
	if err := pid.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove pid file")
		}
	}()

	table, source := curve.NewStore(cfg.CurveFile, logger.Get()).Load()
	logger.Info().Str("source", source.String()).Int("points", len(table)).Msg("Fan curve ready")

	b := newBackends(cfg)
	defer b.Close()

	collector, err := telemetry.NewService(telemetryConfig(cfg), logger.Get())
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close telemetry")
		}
	}()

	opts := []controller.Option{
		controller.WithLogger(logger.Get()),
		controller.WithHostPowerState(powerState(cfg)),
		controller.WithRecorder(collector),
	}

	var hub *status.Hub
	if cfg.Status {
		hub = status.NewHub()
		opts = append(opts, controller.WithRecorder(hub))
	}

	ctrl, err := controller.New(table, b.sensor, b.actuator, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Without a fan there is nothing to control.
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	logger.Info().
		Str("sensor", cfg.Sensor).
		Str("actuator", cfg.Actuator).
		Bool("monitor", cfg.ReadOnly()).
		Str("run_id", collector.RunID()).
		Msg("Fan controller running")

	var g run.Group
	{
		g.Add(func() error {
			<-ctrl.Done()
			return nil
		}, func(error) {
			ctrl.RequestStop()
			ctrl.AwaitStopped()
		})
	}
	if cfg.Status {
		srv := status.NewServer(cfg.StatusAddr, status.NewHandler(ctrl, hub, logger.Get()))
		g.Add(func() error {
			logger.Info().Str("addr", cfg.StatusAddr).Msg("Status server listening")
			return srv.Serve()
		}, func(error) {
			if err := srv.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("Failed to stop status server")
			}
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info().Str("signal", sigErr.Signal.String()).Msg("Received termination signal")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

type backends struct {
	sensor   controller.Sensor
	actuator controller.Actuator
	closers  []io.Closer
}

// newBackends builds the configured sensor and actuator. Both may share
// one NVML session.
func newBackends(cfg *config.Config) *backends {
	b := &backends{}

	var nvml *gpu.Backend
	gpuBackend := func() *gpu.Backend {
		if nvml == nil {
			opts := []gpu.Option{gpu.WithLogger(logger.Get()), gpu.WithDeviceIndex(cfg.GPUIndex)}
			if cfg.GPUUUID != "" {
				opts = append(opts, gpu.WithDeviceUUID(cfg.GPUUUID))
			}
			nvml = gpu.New(opts...)
			b.closers = append(b.closers, nvml)
		}
		return nvml
	}

	switch cfg.Sensor {
	case config.SensorNVML:
		b.sensor = gpuBackend()
	case config.SensorHost:
		b.sensor = sensors.NewHost(cfg.SensorKey)
	default:
		b.sensor = hwmon.NewSensor(cfg.SensorPath)
	}

	switch {
	case cfg.ReadOnly():
		b.actuator = controller.NopActuator{}
	case cfg.Actuator == config.ActuatorNVML:
		b.actuator = gpuBackend()
	default:
		b.actuator = hwmon.NewPwmActuator(cfg.PwmPath, logger.Get())
	}

	return b
}

func (b *backends) Close() {
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release backend")
		}
	}
}

func powerState(cfg *config.Config) controller.HostPowerState {
	if cfg.PowerStateFile == "" {
		return power.Static(false)
	}
	return power.NewFile(cfg.PowerStateFile)
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		Enabled:         cfg.Telemetry,
		DBPath:          cfg.TelemetryDB,
		BatchSize:       cfg.TelemetryBatchSize,
		BatchTimeout:    cfg.TelemetryBatchTimeout,
		BackupOnMigrate: true,
	}
}
