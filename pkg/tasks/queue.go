// Package tasks runs fire-and-forget side effects (verification logging,
// reputation updates, notifications) off the request path.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Func is a unit of background work. Its error is logged, never returned to
// the submitter.
type Func func(ctx context.Context) error

// Runner accepts background work.
type Runner interface {
	// Submit enqueues fn. It never blocks and reports whether fn was accepted.
	Submit(name string, fn Func) bool
}

type job struct {
	name string
	fn   Func
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Workers is the number of goroutines draining the queue (default: 4).
	Workers int

	// Capacity is the buffered queue length (default: 1024).
	Capacity int

	// JobTimeout bounds each job (default: 10s).
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Queue is a bounded worker pool. When the buffer is full new jobs are dropped
// and logged rather than blocking the caller.
type Queue struct {
	jobs    chan job
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts a queue with its workers.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		jobs:    make(chan job, cfg.Capacity),
		timeout: cfg.JobTimeout,
		logger:  cfg.Logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit implements Runner.
func (q *Queue) Submit(name string, fn Func) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("task dropped: queue closed", "task", name)
		return false
	}
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn("task dropped: queue full", "task", name)
		return false
	}
}

// Close stops accepting work and waits for queued jobs to finish or ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task queue drain interrupted: %w", ctx.Err())
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		run(j, q.timeout, q.logger)
	}
}

func run(j job, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "task", j.name, "panic", r)
		}
	}()
	if err := j.fn(ctx); err != nil {
		logger.Error("task failed", "task", j.name, "error", err)
	}
}

// Inline runs every job synchronously on Submit. Errors are still only logged.
type Inline struct {
	Logger *slog.Logger
}

// Submit implements Runner.
func (i Inline) Submit(name string, fn Func) bool {
	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}
	run(job{name: name, fn: fn}, 10*time.Second, logger)
	return true
}
