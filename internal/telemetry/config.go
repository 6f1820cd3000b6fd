package telemetry

import (
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/thermalctl/telemetry.db"
	defaultBatchSize    = 30
	defaultBatchTimeout = time.Minute
)

type Config struct {
	Enabled         bool
	DBPath          string
	BatchSize       int
	BatchTimeout    time.Duration
	BackupOnMigrate bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false, // Disabled by default
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the rest if telemetry is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	if c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch timeout must not be negative")
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
