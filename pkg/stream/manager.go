package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yudha/arus/internal/observability"
)

// DefaultRetention is how long terminal executions survive in the registry
// before the create-time sweep removes them.
const DefaultRetention = 300 * time.Second

// Producer is the opaque background coroutine driving one execution. It
// appends events to the execution it was bound to and returns when the
// stream ends; returning context.Canceled (or the bound context's error)
// signals cooperative cancellation.
type Producer func(ctx context.Context) error

// Manager owns all live executions. It is constructed once at startup and
// passed to consumers; there is no package-level singleton.
type Manager struct {
	executions map[string]*Execution
	retention  time.Duration
	logger     zerolog.Logger
	mu         sync.Mutex
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// now is the sweep clock, overridable in tests
	now func() time.Time
}

// Config holds manager configuration
type Config struct {
	Retention time.Duration
	Logger    zerolog.Logger
}

// NewManager creates a new execution manager
func NewManager(cfg Config) *Manager {
	observability.EnsureRegistered()

	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		executions: make(map[string]*Execution),
		retention:  cfg.Retention,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
}

// Create creates a new execution in the running state with an empty event
// log, stores it, and sweeps out stale terminal executions. Creation and
// cleanup run under one lock so they never interleave with a concurrent
// create or remove.
func (m *Manager) Create(projectID, conversationID string) *Execution {
	executionID := uuid.New().String()
	execution := newExecution(executionID, projectID, conversationID)

	m.mu.Lock()
	m.executions[executionID] = execution
	m.cleanupLocked()
	observability.SetActiveExecutions(len(m.executions))
	m.mu.Unlock()

	m.logger.Info().
		Str("execution_id", executionID).
		Str("conversation_id", conversationID).
		Msg("Created execution")

	return execution
}

// Get returns an execution by ID, nil when it never existed or was already
// removed (callers cannot tell which).
func (m *Manager) Get(executionID string) *Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executions[executionID]
}

// Remove deletes an execution from the registry, no-op when absent
func (m *Manager) Remove(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[executionID]; exists {
		delete(m.executions, executionID)
		observability.SetActiveExecutions(len(m.executions))
		m.logger.Info().Str("execution_id", executionID).Msg("Removed execution")
	}
}

// Count returns the number of executions currently held
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

// Terminal returns all executions that reached a terminal state
func (m *Manager) Terminal() []*Execution {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*Execution{}
	for _, execution := range m.executions {
		if execution.IsComplete() {
			out = append(out, execution)
		}
	}
	return out
}

// cleanupLocked removes terminal executions older than the retention
// window. Retention is advisory: entries can outlive the window until the
// next create call triggers a sweep.
func (m *Manager) cleanupLocked() {
	now := m.now()
	removed := 0

	for executionID, execution := range m.executions {
		if execution.IsComplete() && now.Sub(execution.CreatedAt) > m.retention {
			delete(m.executions, executionID)
			removed++
			m.logger.Debug().Str("execution_id", executionID).Msg("Cleaned up stale execution")
		}
	}

	if removed > 0 {
		observability.RecordCleanupRemovals(removed)
		m.logger.Info().Int("removed", removed).Msg("Cleaned up stale executions")
	}
}

// Start launches the producer as the execution's background driver. The
// driver contains every failure: producer errors and panics are folded
// into the execution's event log and flags, never surfaced to callers.
//
// A clean producer return does not mark the execution complete; terminal
// bookkeeping on success is the producer's job.
func (m *Manager) Start(execution *Execution, producer Producer) {
	runCtx, cancel := context.WithCancel(m.ctx)

	execution.mu.Lock()
	execution.cancelTask = cancel
	execution.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("execution_id", execution.ID).
					Interface("panic", r).
					Msg("Producer panicked")
				if !execution.IsComplete() {
					execution.MarkError(fmt.Sprintf("panic: %v", r))
				}
			}
		}()

		err := producer(runCtx)

		switch {
		case err == nil:
			m.logger.Debug().Str("execution_id", execution.ID).Msg("Producer finished")

		// Only errors that carry the cancellation are folded into flags.
		// A producer failing for its own reasons while the manager shuts
		// down still records its error.
		case errors.Is(err, context.Canceled):
			m.logger.Info().Str("execution_id", execution.ID).Msg("Execution was cancelled")
			execution.markRuntimeCancelled()

		default:
			m.logger.Error().
				Str("execution_id", execution.ID).
				Err(err).
				Msg("Execution failed")
			if !execution.IsComplete() {
				execution.MarkError(classifyProducerError(err))
			}
		}
	}()

	m.logger.Info().Str("execution_id", execution.ID).Msg("Started producer for execution")
}

// classifyProducerError builds the stored error message, rewording known
// transport teardown failures into a friendlier explanation.
func classifyProducerError(err error) string {
	msg := fmt.Sprintf("%T: %v", err, err)
	if strings.Contains(err.Error(), "Stream closed") {
		msg = fmt.Sprintf(
			"Agent communication interrupted (%T): %v. This may occur when operations take longer than expected.",
			err, err,
		)
	}
	return msg
}

// Close cancels all running producers and waits for the drivers to exit
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("Execution manager closed")
	return nil
}
