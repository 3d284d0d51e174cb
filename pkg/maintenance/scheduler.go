// Package maintenance runs periodic housekeeping over the execution
// registry: terminal executions are archived to history before the
// registry's retention sweep drops them, and registry stats are logged.
package maintenance

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/yudha/arus/pkg/stream"
)

// DefaultSchedule is the sweep cadence when none is configured
const DefaultSchedule = "@every 1m"

// Archiver persists a terminal execution. The bool reports whether the
// execution was newly archived.
type Archiver interface {
	Archive(e *stream.Execution) (bool, error)
}

// Scheduler drives periodic maintenance jobs
type Scheduler struct {
	cron     *cron.Cron
	manager  *stream.Manager
	archiver Archiver
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	started bool
}

// Config holds scheduler configuration
type Config struct {
	Manager  *stream.Manager
	Archiver Archiver // optional, stats only when nil
	Schedule string
	Logger   zerolog.Logger
}

// New creates a maintenance scheduler
func New(cfg Config) (*Scheduler, error) {
	if cfg.Manager == nil {
		return nil, errors.New("execution manager is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}

	return &Scheduler{
		cron:     cron.New(),
		manager:  cfg.Manager,
		archiver: cfg.Archiver,
		schedule: cfg.Schedule,
		logger:   cfg.Logger,
	}, nil
}

// Start registers the sweep job and begins the schedule
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.started = true
	s.logger.Info().Str("schedule", s.schedule).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

func (s *Scheduler) runSweep() {
	if _, err := s.Sweep(); err != nil {
		s.logger.Error().Err(err).Msg("Maintenance sweep failed")
	}
}

// Sweep archives all terminal executions and logs registry stats. It is
// safe to call directly, outside the schedule. The first archival error
// is returned after the remaining executions have been attempted.
func (s *Scheduler) Sweep() (int, error) {
	archived := 0
	var firstErr error

	if s.archiver != nil {
		for _, execution := range s.manager.Terminal() {
			inserted, err := s.archiver.Archive(execution)
			if err != nil {
				s.logger.Warn().Err(err).Str("execution_id", execution.ID).Msg("Failed to archive execution")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if inserted {
				archived++
			}
		}
	}

	s.logger.Info().
		Int("active", s.manager.Count()).
		Int("archived", archived).
		Msg("Maintenance sweep completed")

	return archived, firstErr
}
