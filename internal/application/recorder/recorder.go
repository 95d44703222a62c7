// Package recorder persists captured entries off the request path.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"3tcapital/telescope/internal/core/entry"
	ctxutil "3tcapital/telescope/internal/infrastructure/context"
	"3tcapital/telescope/internal/infrastructure/logger"
)

// ErrStopped is returned by Stop when called twice.
var ErrStopped = errors.New("recorder stopped")

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 1024
)

// Config tunes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	// StoreTimeout bounds a single StoreEntry call. Zero means no timeout.
	StoreTimeout    time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Stats is a point-in-time view of the recorder counters.
type Stats struct {
	Stored  int64
	Failed  int64
	Dropped int64
	Queued  int
	Breaker BreakerState
}

// Recorder is a bounded queue drained by a fixed set of workers. Record
// never blocks: when the queue is full the entry is dropped and counted.
type Recorder struct {
	store   entry.Writer
	log     *slog.Logger
	breaker *Breaker
	timeout time.Duration

	queue chan *entry.Entry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	stored  atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// New starts a recorder writing to store.
func New(store entry.Writer, cfg Config, log *slog.Logger) *Recorder {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	r := &Recorder{
		store:   store,
		log:     logger.Component(log, "recorder"),
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		timeout: cfg.StoreTimeout,
		queue:   make(chan *entry.Entry, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record enqueues e for persistence and reports whether it was accepted.
func (r *Recorder) Record(e *entry.Entry) bool {
	if e == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}

	select {
	case r.queue <- e:
		return true
	default:
		r.dropped.Add(1)
		r.log.Warn("Recorder queue full, entry dropped", "type", e.Type)
		return false
	}
}

// Stop rejects new entries and waits for queued ones to be stored, or for
// ctx to expire.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrStopped
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain recorder queue: %w", ctx.Err())
	}
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Stored:  r.stored.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
		Queued:  len(r.queue),
		Breaker: r.breaker.State(),
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for e := range r.queue {
		r.persist(e)
	}
}

func (r *Recorder) persist(e *entry.Entry) {
	ctx := ctxutil.WithoutCapture(context.Background())
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := r.store.StoreEntry(ctx, e)
		return err
	})

	switch {
	case err == nil:
		r.stored.Add(1)
	case errors.Is(err, ErrCircuitOpen):
		r.dropped.Add(1)
		r.log.Debug("Storage circuit open, entry dropped", "type", e.Type)
	default:
		r.failed.Add(1)
		r.log.Error("Failed to store entry",
			"type", e.Type,
			"request_id", e.RequestID(),
			"error", err,
		)
	}
}
