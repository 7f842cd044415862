package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

var ErrQueueClosed = errors.New("monitor: event queue closed")

// Queue is the single ordered channel between the producers (webhook
// receiver, flow sampler timers, status requests) and the state machine.
// Push blocks while the buffer is full; events are never dropped by the
// queue itself.
type Queue struct {
	ch     chan model.Event
	closed chan struct{}
	once   sync.Once
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan model.Event, size), closed: make(chan struct{})}
}

// Push enqueues e. It fails with ErrQueueClosed after Close and with
// ctx.Err() if the caller gives up while the buffer is full.
func (q *Queue) Push(ctx context.Context, e model.Event) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- e:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Buffered events stay readable.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}

func (q *Queue) Events() <-chan model.Event { return q.ch }

func (q *Queue) Len() int { return len(q.ch) }
