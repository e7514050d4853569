package notifications

import (
	"context"
	"sync"
)

// DefaultStreamBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses events; the pull query is the source of truth
// for the panel list, so a dropped push costs at most a delayed badge.
const DefaultStreamBuffer = 16

// Dispatcher fans notification events out to per-user push subscribers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs a dispatcher with the given per-subscriber buffer
// depth; zero or negative falls back to DefaultStreamBuffer.
func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultStreamBuffer
	}
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  bufferSize,
	}
}

func subscriberKey(tenant, userID string) string {
	return tenant + "\x00" + userID
}

// Subscribe registers a push stream for the user. The stream is torn down
// when ctx is cancelled or the returned cancel function runs, whichever
// happens first. An empty tenant or user yields a closed stream.
func (d *Dispatcher) Subscribe(ctx context.Context, tenant, userID string) (<-chan Event, func()) {
	if tenant == "" || userID == "" {
		stream := make(chan Event)
		close(stream)
		return stream, func() {}
	}
	key := subscriberKey(tenant, userID)
	sub := &subscriber{stream: make(chan Event, d.bufferSize)}

	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*subscriber)
	}
	d.subscribers[key][sub.id] = sub
	d.mu.Unlock()

	cancel := func() { d.unsubscribe(key, sub.id) }
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.stream, cancel
}

// Publish delivers the event to every subscriber of its user without
// blocking; a full stream drops the event.
func (d *Dispatcher) Publish(event Event) {
	if event.Tenant == "" || event.UserID == "" {
		return
	}
	key := subscriberKey(event.Tenant, event.UserID)

	d.mu.RLock()
	targets := make([]*subscriber, 0, len(d.subscribers[key]))
	for _, sub := range d.subscribers[key] {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) unsubscribe(key string, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.subscribers[key]
	if subs == nil {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(d.subscribers, key)
	}
}
