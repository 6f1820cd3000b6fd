// Package telemetry persists control loop snapshots to sqlite so fan
// behaviour can be reviewed after the fact.
package telemetry

import (
	"context"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/google/uuid"
)

type service struct {
	repo  Repository
	runID string
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return noopCollector{}, nil
	}

	runID := uuid.NewString()
	repo, err := NewRepository(cfg, runID, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create telemetry repository")
		return nil, err
	}

	return &service{
		repo:  repo,
		runID: runID,
	}, nil
}

func (s *service) Record(ctx context.Context, snapshot *thermal.Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	return s.repo.Record(snapshot)
}

func (s *service) RunID() string {
	return s.runID
}

func (s *service) Close() error {
	return s.repo.Close()
}

func (noopCollector) Record(context.Context, *thermal.Snapshot) error {
	return nil
}

func (noopCollector) RunID() string {
	return ""
}

func (noopCollector) Close() error {
	return nil
}
