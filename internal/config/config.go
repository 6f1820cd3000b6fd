// Package config loads thermalctl settings from a TOML file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "/etc/thermalctl.toml"
	DefaultEnvPrefix  = "THERMALCTL"
)

const (
	SensorHwmon   = "hwmon"
	SensorNVML    = "nvml"
	SensorHost    = "gopsutil"
	ActuatorHwmon = "hwmon"
	ActuatorNVML  = "nvml"
	ActuatorNone  = "none"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	PidFile  string `mapstructure:"pid_file"`

	CurveFile string `mapstructure:"curve_file"`

	Sensor     string `mapstructure:"sensor"`
	SensorPath string `mapstructure:"sensor_path"`
	SensorKey  string `mapstructure:"sensor_key"`
	Actuator   string `mapstructure:"actuator"`
	PwmPath    string `mapstructure:"pwm_path"`
	GPUIndex   int    `mapstructure:"gpu_index"`
	GPUUUID    string `mapstructure:"gpu_uuid"`
	Monitor    bool   `mapstructure:"monitor"`

	PowerStateFile string `mapstructure:"power_state_file"`

	Telemetry             bool          `mapstructure:"telemetry"`
	TelemetryDB           string        `mapstructure:"telemetry_db"`
	TelemetryBatchSize    int           `mapstructure:"telemetry_batch_size"`
	TelemetryBatchTimeout time.Duration `mapstructure:"telemetry_batch_timeout"`

	Status     bool   `mapstructure:"status"`
	StatusAddr string `mapstructure:"status_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "/var/log/thermalctl/thermalctl.log")
	v.SetDefault("pid_file", "")
	v.SetDefault("curve_file", "/var/lib/thermalctl/curve.bin")
	v.SetDefault("sensor", SensorHwmon)
	v.SetDefault("sensor_path", "/sys/class/thermal/thermal_zone0/temp")
	v.SetDefault("sensor_key", "")
	v.SetDefault("actuator", ActuatorHwmon)
	v.SetDefault("pwm_path", "")
	v.SetDefault("gpu_index", 0)
	v.SetDefault("gpu_uuid", "")
	v.SetDefault("monitor", false)
	v.SetDefault("power_state_file", "")
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db", "/var/lib/thermalctl/telemetry.db")
	v.SetDefault("telemetry_batch_size", 30)
	v.SetDefault("telemetry_batch_timeout", time.Minute)
	v.SetDefault("status", false)
	v.SetDefault("status_addr", "127.0.0.1:9465")
}

// Load reads the configuration. flags may be nil; only flags the user set
// override the file and environment.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path, explicit := o.configPath, o.configPath != ""
	if !explicit {
		if env := os.Getenv(o.envPrefix + "_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultConfigFile
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func invalid(field string, value any, reason string) error {
	return errors.New().Wrap(errors.ErrInvalidConfig, &fieldError{field: field, value: value, reason: reason})
}

// Validate checks field values. Backend paths are checked separately by
// ValidateBackends since only the run command needs them.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", c.LogLevel, "must be debug, info, warning or error")
	}
	if c.CurveFile == "" {
		return invalid("curve_file", c.CurveFile, "must not be empty")
	}

	switch c.Sensor {
	case SensorHwmon, SensorNVML, SensorHost:
	default:
		return invalid("sensor", c.Sensor, "must be hwmon, nvml or gopsutil")
	}

	switch c.Actuator {
	case ActuatorHwmon, ActuatorNVML, ActuatorNone:
	default:
		return invalid("actuator", c.Actuator, "must be hwmon, nvml or none")
	}

	if c.GPUIndex < 0 {
		return invalid("gpu_index", c.GPUIndex, "must not be negative")
	}

	if c.Telemetry {
		if c.TelemetryDB == "" {
			return invalid("telemetry_db", c.TelemetryDB, "required when telemetry is enabled")
		}
		if c.TelemetryBatchSize < 1 {
			return invalid("telemetry_batch_size", c.TelemetryBatchSize, "must be positive")
		}
		if c.TelemetryBatchTimeout < 0 {
			return invalid("telemetry_batch_timeout", c.TelemetryBatchTimeout, "must not be negative")
		}
	}

	if c.Status && c.StatusAddr == "" {
		return invalid("status_addr", c.StatusAddr, "required when the status server is enabled")
	}

	return nil
}

// ValidateBackends checks that the selected sensor and actuator can be built.
func (c *Config) ValidateBackends() error {
	if c.Sensor == SensorHwmon && c.SensorPath == "" {
		return invalid("sensor_path", c.SensorPath, "required for the hwmon sensor")
	}
	if c.Actuator == ActuatorHwmon && !c.Monitor && c.PwmPath == "" {
		return invalid("pwm_path", c.PwmPath, "required for the hwmon actuator")
	}

	return nil
}

// ReadOnly reports whether the fan must never be driven.
func (c *Config) ReadOnly() bool {
	return c.Monitor || c.Actuator == ActuatorNone
}
