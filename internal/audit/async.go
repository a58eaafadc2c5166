package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultQueueSize   = 1024
	DefaultMaxAttempts = 5
	DefaultMaxElapsed  = 30 * time.Second

	DefaultAttemptTimeout = 5 * time.Second

	notFoundOutcome = "rejected:ticket_not_found"
)

// AsyncLogger queues entries in memory and delivers them to a Sink from a
// background worker. Record never blocks; an entry that cannot be queued
// or delivered is written to the local log instead. Sinks must return once
// their ctx ends.
type AsyncLogger struct {
	sink    Sink
	logger  *logger.Logger
	tracker *NotFoundTracker

	maxAttempts     int
	initialInterval time.Duration
	maxElapsed      time.Duration
	attemptTimeout  time.Duration

	// ctx is cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	queue  chan models.CheckInLogEntry
	closed bool
	done   chan struct{}
	start  sync.Once
}

type AsyncOption func(*AsyncLogger)

func WithAsyncLogger(l *logger.Logger) AsyncOption {
	return func(a *AsyncLogger) { a.logger = l }
}

func WithQueueSize(n int) AsyncOption {
	return func(a *AsyncLogger) {
		if n > 0 {
			a.queue = make(chan models.CheckInLogEntry, n)
		}
	}
}

// WithRetry sets how many delivery attempts an entry gets and the first
// backoff interval between them.
func WithRetry(maxAttempts int, initial time.Duration) AsyncOption {
	return func(a *AsyncLogger) {
		if maxAttempts > 0 {
			a.maxAttempts = maxAttempts
		}
		if initial > 0 {
			a.initialInterval = initial
		}
	}
}

// WithAttemptTimeout bounds a single delivery attempt.
func WithAttemptTimeout(d time.Duration) AsyncOption {
	return func(a *AsyncLogger) {
		if d > 0 {
			a.attemptTimeout = d
		}
	}
}

// WithNotFoundTracker counts ticket_not_found entries per device.
func WithNotFoundTracker(t *NotFoundTracker) AsyncOption {
	return func(a *AsyncLogger) { a.tracker = t }
}

func NewAsyncLogger(sink Sink, opts ...AsyncOption) *AsyncLogger {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncLogger{
		sink:            sink,
		logger:          logger.NewNop(),
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: 100 * time.Millisecond,
		maxElapsed:      DefaultMaxElapsed,
		attemptTimeout:  DefaultAttemptTimeout,
		ctx:             ctx,
		cancel:          cancel,
		queue:           make(chan models.CheckInLogEntry, DefaultQueueSize),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the delivery worker. Calling it again is a no-op.
func (a *AsyncLogger) Start() {
	a.start.Do(func() { go a.run() })
}

// Record queues entry for delivery.
func (a *AsyncLogger) Record(entry models.CheckInLogEntry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.spill("closed", entry, nil)
		return
	}
	select {
	case a.queue <- entry:
		metrics.AuditQueueDepth.Set(float64(len(a.queue)))
	default:
		a.spill("queue_full", entry, nil)
	}
}

// Close stops accepting entries and waits for the queue to drain. If ctx
// ends first, the in-flight attempt is cancelled and every undelivered
// entry is spilled with cause=shutdown before Close returns.
func (a *AsyncLogger) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.Start()
	select {
	case <-a.done:
		a.cancel()
		return nil
	case <-ctx.Done():
	}

	a.cancel()
	for entry := range a.queue {
		a.spill("shutdown", entry, nil)
	}
	<-a.done
	metrics.AuditQueueDepth.Set(0)
	return fmt.Errorf("audit queue not drained: %w", ctx.Err())
}

func (a *AsyncLogger) run() {
	defer close(a.done)
	for entry := range a.queue {
		metrics.AuditQueueDepth.Set(float64(len(a.queue)))
		if a.ctx.Err() != nil {
			a.spill("shutdown", entry, nil)
			continue
		}
		a.observe(entry)
		a.deliver(entry)
	}
}

func (a *AsyncLogger) observe(entry models.CheckInLogEntry) {
	if a.tracker == nil || entry.Outcome != notFoundOutcome {
		return
	}
	ctx, cancel := context.WithTimeout(a.ctx, a.attemptTimeout)
	defer cancel()
	if _, err := a.tracker.Observe(ctx, entry.DeviceID); err != nil {
		a.logger.Warn("REDIS", fmt.Sprintf("not-found counter unavailable: %v", err))
	}
}

func (a *AsyncLogger) deliver(entry models.CheckInLogEntry) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initialInterval
	b.MaxElapsedTime = a.maxElapsed
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.maxAttempts-1)), a.ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		ctx, cancel := context.WithTimeout(a.ctx, a.attemptTimeout)
		defer cancel()
		return a.sink.Append(ctx, entry)
	}, policy)
	if err != nil {
		cause := "sink_error"
		if a.ctx.Err() != nil {
			cause = "shutdown"
		}
		a.spill(cause, entry, err)
		return
	}
	if attempt > 1 {
		a.logger.Info("AUDIT", fmt.Sprintf("entry %s delivered after %d attempts", entry.ID, attempt))
	}
}

// spill keeps the entry recoverable from the local log.
func (a *AsyncLogger) spill(cause string, entry models.CheckInLogEntry, err error) {
	metrics.AuditFailuresTotal.WithLabelValues(cause).Inc()
	payload, _ := json.Marshal(entry)
	msg := fmt.Sprintf("undelivered audit entry cause=%s entry=%s", cause, payload)
	if err != nil {
		msg += fmt.Sprintf(" error=%v", err)
	}
	a.logger.Error("AUDIT", msg)
}
