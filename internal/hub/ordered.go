package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned by Ordered.Publish when the worker has fallen behind.
var ErrQueueFull = errors.New("publish queue full")

// ErrClosed is returned by Ordered.Publish after Close.
var ErrClosed = errors.New("publisher closed")

type pending struct {
	lobbyID string
	snap    models.Lobby
}

// Ordered hands snapshots to a slower publisher (Redis) from a single worker, so delivery keeps the
// order of Publish calls. Publish only enqueues and never blocks.
type Ordered struct {
	next    Publisher
	timeout time.Duration
	log     logrus.FieldLogger

	mu     sync.Mutex
	closed bool
	queue  chan pending
	done   chan struct{}
}

// NewOrdered starts the worker. size bounds the queue; timeout bounds each delivery.
func NewOrdered(next Publisher, size int, timeout time.Duration, logger logrus.FieldLogger) *Ordered {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := &Ordered{
		next:    next,
		timeout: timeout,
		log:     logger.WithField("component", "ordered_publisher"),
		queue:   make(chan pending, size),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

// Publish queues snap for delivery.
func (o *Ordered) Publish(_ context.Context, lobbyID string, snap models.Lobby) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.queue <- pending{lobbyID: lobbyID, snap: snap.Clone()}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting snapshots and waits for the queued ones to be delivered.
func (o *Ordered) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	<-o.done
}

func (o *Ordered) run() {
	defer close(o.done)
	for p := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		if err := o.next.Publish(ctx, p.lobbyID, p.snap); err != nil {
			o.log.WithError(err).WithField("lobby", p.lobbyID).Warn("publish snapshot failed")
		}
		cancel()
	}
}
