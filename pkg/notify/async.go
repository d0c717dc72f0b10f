package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when the async queue cannot take another event
var ErrQueueFull = errors.New("notify: queue full")

// ErrNotifierClosed is returned for events submitted after Close
var ErrNotifierClosed = errors.New("notify: notifier closed")

// AsyncConfig tunes an AsyncNotifier
type AsyncConfig struct {
	// Buffer is the queue capacity
	Buffer int
	// SendTimeout bounds a single delivery attempt
	SendTimeout time.Duration
	// Backoff lists the waits between attempts; its length is the retry count
	Backoff []time.Duration
}

type delivery struct {
	name string
	key  string
	send func(ctx context.Context) error
}

// AsyncNotifier queues events and hands them to the wrapped Notifier from a
// single background worker, so callers never wait on the broker. Events keep
// their submission order.
type AsyncNotifier struct {
	inner  Notifier
	cfg    AsyncConfig
	logger *logrus.Logger

	queue chan delivery
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncNotifier starts the worker. Call Close to drain and stop it.
func NewAsyncNotifier(inner Notifier, cfg AsyncConfig, logger *logrus.Logger) *AsyncNotifier {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = []time.Duration{200 * time.Millisecond, time.Second, 5 * time.Second}
	}
	n := &AsyncNotifier{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan delivery, cfg.Buffer),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *AsyncNotifier) BookingConfirmed(ctx context.Context, e BookingEvent) error {
	return n.enqueue(EventBookingConfirmed, e.BookingID.String(), func(ctx context.Context) error {
		return n.inner.BookingConfirmed(ctx, e)
	})
}

func (n *AsyncNotifier) BookingCancelled(ctx context.Context, e BookingEvent) error {
	return n.enqueue(EventBookingCancelled, e.BookingID.String(), func(ctx context.Context) error {
		return n.inner.BookingCancelled(ctx, e)
	})
}

func (n *AsyncNotifier) PayoutProcessed(ctx context.Context, e PayoutEvent) error {
	return n.enqueue(EventPayoutProcessed, e.PayoutID.String(), func(ctx context.Context) error {
		return n.inner.PayoutProcessed(ctx, e)
	})
}

// Pending returns the number of queued events
func (n *AsyncNotifier) Pending() int {
	return len(n.queue)
}

func (n *AsyncNotifier) enqueue(name, key string, send func(ctx context.Context) error) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	select {
	case n.queue <- delivery{name: name, key: key, send: send}:
		return nil
	default:
		n.logger.WithFields(logrus.Fields{"event": name, "key": key}).Error("Notification queue full, event dropped")
		return ErrQueueFull
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for d := range n.queue {
		n.deliver(d)
	}
}

func (n *AsyncNotifier) deliver(d delivery) {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.SendTimeout)
		err := d.send(ctx)
		cancel()
		if err == nil {
			return
		}

		entry := n.logger.WithError(err).WithFields(logrus.Fields{
			"event":   d.name,
			"key":     d.key,
			"attempt": attempt + 1,
		})
		if attempt >= len(n.cfg.Backoff) {
			entry.Error("Notification delivery failed, giving up")
			return
		}
		entry.Warn("Notification delivery failed, retrying")
		time.Sleep(n.cfg.Backoff[attempt])
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.logger.WithField("pending", len(n.queue)).Warn("Notification queue not drained before shutdown")
		return ctx.Err()
	}
}
