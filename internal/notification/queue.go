package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/congo_shop/internal/metrics"
)

const (
	sendTimeout    = 5 * time.Second
	enqueueWait    = 250 * time.Millisecond
	maxAttempts    = 5
	initialBackoff = 100 * time.Millisecond
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = errors.New("notification queue is closed")
)

// Queue decouples notification delivery from the request path. Send waits
// briefly for buffer space and reports ErrQueueFull when none frees up; a
// rejected message is counted as dropped and the caller decides what to do
// with it. An accepted message is retried with exponential backoff until the
// backend takes it, the attempts run out or Run's context ends, so delivery
// is at least once up to that bound and not guaranteed across restarts.
type Queue struct {
	next    Notifier
	logger  *slog.Logger
	metrics *metrics.Metrics

	wait     time.Duration
	attempts int
	backoff  time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Message
	done   chan struct{}
}

// NewQueue buffers up to size messages in front of next. m may be nil.
func NewQueue(next Notifier, size int, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		next:     next,
		logger:   logger,
		metrics:  m,
		wait:     enqueueWait,
		attempts: maxAttempts,
		backoff:  initialBackoff,
		ch:       make(chan Message, size),
		done:     make(chan struct{}),
	}
}

// Send enqueues message without waiting for delivery. When the buffer is
// full it waits up to a short bound, or until ctx is done, for space.
func (q *Queue) Send(ctx context.Context, message Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if message.OccurredAt.IsZero() {
		message.OccurredAt = time.Now().UTC()
	}
	select {
	case q.ch <- message:
		return nil
	default:
	}

	timer := time.NewTimer(q.wait)
	defer timer.Stop()
	select {
	case q.ch <- message:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	q.count("dropped")
	q.logger.Warn("notification dropped", slog.String("kind", message.Kind), slog.String("destination", message.Destination))
	return ErrQueueFull
}

// Run delivers queued messages until Close drains the queue or ctx is done.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.ch:
			if !ok {
				return
			}
			q.deliver(ctx, msg)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, msg Message) {
	backoff := q.backoff
	var err error
attempts:
	for attempt := 1; attempt <= q.attempts; attempt++ {
		if err = q.sendOnce(ctx, msg); err == nil {
			q.count("ok")
			return
		}
		if attempt == q.attempts {
			break
		}
		q.count("retry")
		q.logger.Warn("notification delivery failed, retrying",
			slog.String("kind", msg.Kind),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			break attempts
		}
		backoff *= 2
	}

	q.count("error")
	q.logger.Error("notification delivery failed",
		slog.String("kind", msg.Kind),
		slog.String("destination", msg.Destination),
		slog.Any("error", err))
}

func (q *Queue) sendOnce(ctx context.Context, msg Message) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	return q.next.Send(sendCtx, msg)
}

// Close stops accepting messages and waits until Run has delivered the
// buffered ones or ctx expires. Run must have been started.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) count(outcome string) {
	if q.metrics != nil {
		q.metrics.Notifications.WithLabelValues(outcome).Inc()
	}
}
