package audit

import (
	"context"
	"sync"
)

// Dispatcher forwards events to a sink from one goroutine in emit order.
// Events that cannot be queued are counted per EventType.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	dropIfFull bool
	done       chan struct{}

	// mu guards closed and the send side of queue.
	mu     sync.RWMutex
	closed bool

	dropMu  sync.Mutex
	dropped map[string]uint64
}

// NewDispatcher starts the forwarding goroutine. With dropIfFull a full
// queue drops the event; otherwise Emit waits for room or for ctx.
func NewDispatcher(buffer int, dropIfFull bool, sink Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, buffer),
		dropIfFull: dropIfFull,
		done:       make(chan struct{}),
		dropped:    make(map[string]uint64),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event. A nil or closed Dispatcher discards it silently.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.drop(event.EventType)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event.EventType)
	}
}

func (d *Dispatcher) drop(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	d.dropMu.Lock()
	d.dropped[eventType]++
	d.dropMu.Unlock()
}

// Close stops accepting events and waits until the queue has drained into
// the sink. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

// Dropped returns lost events keyed by EventType.
func (d *Dispatcher) Dropped() map[string]uint64 {
	out := make(map[string]uint64)
	if d == nil {
		return out
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	for k, v := range d.dropped {
		out[k] = v
	}
	return out
}
