package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	runID         string
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*thermal.Snapshot
	closed        bool
	flushTicker   *time.Ticker
	flushChan     chan struct{}
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewRepository opens (or creates) the sqlite database at cfg.DBPath.
func NewRepository(cfg Config, runID string, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// WAL keeps readers (sqlite3 CLI, dashboards) from blocking the flusher
	dsn := "file:" + cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	repo, err := newRepository(db, cfg, runID, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func newRepository(db *sql.DB, cfg Config, runID string, log logger.Logger) (*repository, error) {
	backupDir := ""
	if cfg.BackupOnMigrate {
		backupDir = filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	}

	if err := ValidateAndUpdateSchema(db, backupDir, log); err != nil {
		return nil, errors.New().Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Str("run_id", runID).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	repo := &repository{
		db:            db,
		runID:         runID,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*thermal.Snapshot, 0, cfg.BatchSize),
		flushChan:     make(chan struct{}, 1),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
	}
	go repo.flusher()

	return repo, nil
}

// Record buffers a copy of snapshot. A full batch is handed to the flusher
// goroutine; the caller never waits for the database.
func (r *repository) Record(snapshot *thermal.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrRepositoryClosed)
	}

	s := *snapshot
	r.buffer = append(r.buffer, &s)

	if len(r.buffer) >= r.cfg.BatchSize {
		select {
		case r.flushChan <- struct{}{}:
		default:
		}
	}

	return nil
}

func (r *repository) takeBuffer() []*thermal.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := r.buffer
	r.buffer = make([]*thermal.Snapshot, 0, r.cfg.BatchSize)

	return batch
}

func (r *repository) Close() error {
	errFactory := errors.New()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	flushErr := r.flush(r.takeBuffer())

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Telemetry repository closed gracefully")

	return flushErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	var tick <-chan time.Time
	if r.flushTicker != nil {
		tick = r.flushTicker.C
	}

	for {
		select {
		case <-tick:
			if err := r.flush(r.takeBuffer()); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic telemetry flush failed")
			}
		case <-r.flushChan:
			if err := r.flush(r.takeBuffer()); err != nil {
				r.logger.Warn().Err(err).Msg("Telemetry batch flush failed")
			}
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes batch in one transaction. Only the flusher goroutine, and
// Close after it has exited, call flush. A failed batch is dropped so a
// broken database cannot grow the buffer without bound.
func (r *repository) flush(batch []*thermal.Snapshot) error {
	if len(batch) == 0 {
		return nil
	}

	errFactory := errors.New()
	count := len(batch)

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Int("dropped", count).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		r.logger.Error().Err(err).Int("dropped", count).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.Exec(r.values(s)...); err != nil {
			r.logger.Error().Err(err).Int("dropped", count).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Int("dropped", count).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", count).Msg("Flushed snapshots to database")

	return nil
}

func (r *repository) values(s *thermal.Snapshot) []any {
	var temperature any
	if !s.SensorFailed {
		temperature = s.TemperatureC
	}

	return []any{
		r.runID,
		s.Timestamp.UnixMilli(),
		temperature,
		s.TargetDutyCycle,
		s.AppliedDutyCycle,
		boolToInt(s.Actuated),
		boolToInt(s.ActuationFailed),
		boolToInt(s.SensorFailed),
		s.Interval.Milliseconds(),
		string(s.Mode),
		boolToInt(s.EmergencyActive),
		boolToInt(s.SleepModeActive),
		int64(s.StableReadingCount),
	}
}
