package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrDispatcherClosed is returned by Close when called twice.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// AsyncDispatcher moves event delivery off the caller's goroutine. A single
// worker drains the queue, so events reach the wrapped publisher in the order
// they were published.
type AsyncDispatcher struct {
	next   Publisher
	queue  chan queuedEvent
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAsyncDispatcher starts a dispatcher with the given queue size. Publish
// blocks while the queue is full.
func NewAsyncDispatcher(next Publisher, queueSize int, logger *slog.Logger) *AsyncDispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &AsyncDispatcher{
		next:   next,
		queue:  make(chan queuedEvent, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

func (d *AsyncDispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		d.next.Publish(q.ctx, q.event)
	}
}

// Publish enqueues the event. The request context is detached so delivery
// survives the caller returning.
func (d *AsyncDispatcher) Publish(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("Dropping event published after close", "event", event.Name)
		return
	}
	d.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
