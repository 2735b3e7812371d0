// Package notify delivers fire-and-forget events about accepted writes.
// Publishing never blocks the admission path.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Event struct {
	Kind     string
	Resource string
	Key      string
	At       time.Time
}

type Dispatcher struct {
	ch      chan Event
	handler func(Event)
	log     *zap.Logger
	dropped atomic.Int64
}

func NewDispatcher(buffer int, handler func(Event), log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ch:      make(chan Event, buffer),
		handler: handler,
		log:     log,
	}
}

// Start drains events until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-d.ch:
				d.handler(ev)
			}
		}
	}()
}

// Publish enqueues an event without blocking; on overflow the event is
// dropped and counted.
func (d *Dispatcher) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warn("notification dropped",
			zap.String("kind", ev.Kind),
			zap.Int64("dropped", d.dropped.Load()),
		)
	}
}

func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}
