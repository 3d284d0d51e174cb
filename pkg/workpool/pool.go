// Package workpool provides a shared bounded pool for running blocking
// work off the caller's goroutine. One pool instance is shared by all tool
// invocations rather than allocating per-call executors.
package workpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/yudha/arus/internal/observability"
)

// DefaultWorkers is the pool size used when none is configured
const DefaultWorkers = 8

// Task represents a blocking operation to be executed on the pool
type Task func(ctx context.Context) (interface{}, error)

// Result carries a task's outcome
type Result struct {
	Value interface{}
	Err   error
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan Result
}

// Pool is a bounded worker pool with a FIFO overflow queue
type Pool struct {
	workers int
	queue   []*taskRecord
	running int
	logger  zerolog.Logger
	mu      sync.Mutex
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Config holds pool configuration
type Config struct {
	Workers int
	Logger  zerolog.Logger
}

// New creates a new worker pool
func New(cfg Config) *Pool {
	observability.EnsureRegistered()

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers: cfg.Workers,
		queue:   make([]*taskRecord, 0),
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	p.logger.Info().Int("workers", cfg.Workers).Msg("Worker pool initialized")

	return p
}

// Submit enqueues a task and returns a channel delivering its single
// result. Submit never blocks; the caller decides how to wait. The task's
// context is cancelled when the pool closes, but a task already running
// is not forcibly stopped: it holds its worker until it returns.
func (p *Pool) Submit(ctx context.Context, task Task) <-chan Result {
	if ctx == nil {
		ctx = context.Background()
	}

	taskID, _ := gonanoid.New()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan Result, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		record.result <- Result{Err: fmt.Errorf("worker pool is closed")}
		close(record.result)
		return record.result
	}
	p.queue = append(p.queue, record)
	queueSize := len(p.queue)
	p.mu.Unlock()

	p.logger.Debug().
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")
	observability.SetPoolQueueSize(queueSize)

	go p.dispatch()

	return record.result
}

// dispatch starts queued tasks while workers are available
func (p *Pool) dispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.running < p.workers && len(p.queue) > 0 {
		record := p.queue[0]
		p.queue = p.queue[1:]

		// A task whose submitter already gave up must not occupy a worker.
		// Run-to-completion applies only once a task has started.
		if err := record.ctx.Err(); err != nil {
			observability.SetPoolQueueSize(len(p.queue))
			record.result <- Result{Err: err}
			close(record.result)
			p.logger.Debug().
				Str("task_id", record.id).
				Dur("queued", time.Since(record.enqueuedAt)).
				Msg("Dropped cancelled task from queue")
			continue
		}

		p.running++
		observability.SetPoolQueueSize(len(p.queue))
		observability.SetPoolRunning(p.running)

		p.wg.Add(1)
		go p.execute(record)
	}
}

// execute runs a single task to completion
func (p *Pool) execute(record *taskRecord) {
	defer p.wg.Done()

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(p.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	p.mu.Lock()
	p.running--
	observability.SetPoolRunning(p.running)
	p.mu.Unlock()

	record.result <- Result{Value: value, Err: err}
	close(record.result)

	if err != nil {
		p.logger.Debug().
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		p.logger.Debug().
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	go p.dispatch()
}

// QueueSize returns the number of queued tasks
func (p *Pool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// RunningCount returns the number of currently executing tasks
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Close rejects queued tasks, cancels running task contexts, and waits for
// in-flight tasks to return
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	rejected := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, record := range rejected {
		record.result <- Result{Err: fmt.Errorf("worker pool is closed")}
		close(record.result)
	}

	p.cancel()
	p.wg.Wait()

	p.logger.Info().Int("rejected", len(rejected)).Msg("Worker pool closed")
	return nil
}
