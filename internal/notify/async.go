package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rps.hh/internal/logging"
	"rps.hh/internal/metrics"
)

type AsyncOptions struct {
	QueueSize      int
	PublishTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
}

// Async hands events to a Publisher from a single background worker. When
// the queue is full the event is dropped rather than blocking the caller.
type Async struct {
	pub     Publisher
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewAsync(pub Publisher, opts AsyncOptions) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	a := &Async{
		pub:     pub,
		timeout: opts.PublishTimeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		queue:   make(chan Event, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		a.metrics.RecordNotifyDropped()
		logging.Warn(a.logger, "notify_dropped",
			slog.String(logging.FieldEvent, string(e.Type)),
			slog.String(logging.FieldMatchID, e.MatchID),
		)
	}
}

// Close stops accepting events and waits for queued ones to be published
// or for ctx to expire.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		a.publish(e)
	}
}

func (a *Async) publish(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.pub.Publish(ctx, e); err != nil {
		a.metrics.RecordNotifyFailure()
		logging.Error(a.logger, "notify_failed", err,
			slog.String(logging.FieldEvent, string(e.Type)),
			slog.String(logging.FieldMatchID, e.MatchID),
		)
	}
}
