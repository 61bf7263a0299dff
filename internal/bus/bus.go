// Package bus provides the in-process event bus that fans runtime events
// out to subscribers. Frontends subscribe to observe streaming message
// updates, permission prompts, and tool execution progress; the runtime
// publishes and never blocks on a slow consumer.
package bus

import (
	"context"
	"sync"
)

// Event kinds published by the runtime.
const (
	EventSessionMessageUpdated     = "session.message.updated"
	EventSessionMessagePartUpdated = "session.message.part.updated"
	EventSessionIdle               = "session.idle"
	EventSessionError              = "session.error"
	EventPermissionUpdated         = "permission.updated"
	EventToolExecutionStarted      = "tool.execution.started"
	EventToolExecutionCompleted    = "tool.execution.completed"
	EventWriterProgress            = "writer.progress"
	EventHookNotification          = "hook.notification"
)

const defaultBuffer = 16

// Event is a single bus notification. SessionID scopes the event to one
// session; Payload carries the event-specific value (message snapshot,
// permission request, tool execution record).
type Event struct {
	Type      string
	SessionID string
	Payload   any
}

// Bus is an in-memory fan-out broker. Publish delivers to every live
// subscription whose session filter matches, in publication order, without
// blocking: events for a full subscriber buffer are dropped.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// Subscription is a live registration on a Bus. Events are received from
// Events(); Close is idempotent and releases the channel.
type Subscription struct {
	id        uint64
	bus       *Bus
	ch        chan Event
	sessionID string
	once      sync.Once
}

// New returns an empty bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber that receives every published event.
// A buffer of zero or less selects the default buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	return b.subscribe("", buffer)
}

// SubscribeSession registers a subscriber that receives only events whose
// SessionID matches sessionID.
func (b *Bus) SubscribeSession(sessionID string, buffer int) *Subscription {
	return b.subscribe(sessionID, buffer)
}

// Watch subscribes for the lifetime of ctx: the subscription is closed
// automatically when ctx is done.
func (b *Bus) Watch(ctx context.Context, sessionID string, buffer int) *Subscription {
	sub := b.subscribe(sessionID, buffer)
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub
}

func (b *Bus) subscribe(sessionID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	b.mu.Lock()
	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		bus:       b,
		ch:        make(chan Event, buffer),
		sessionID: sessionID,
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Publish fans the event out to matching subscribers. Delivery is
// non-blocking; a subscriber whose buffer is full misses the event. Events
// published sequentially by one goroutine arrive at each subscriber in
// publication order.
func (b *Bus) Publish(event Event) {
	if event.Type == "" {
		return
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.sessionID == "" || sub.sessionID == event.SessionID {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.send(event)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Events returns the receive channel. It is closed when the subscription is
// closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close removes the subscription from the bus and closes its channel. Safe
// to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

func (s *Subscription) send(event Event) {
	defer func() {
		// The channel was closed after the publish snapshot was taken.
		// Drop the event and keep delivering to the remaining subscribers.
		_ = recover()
	}()

	select {
	case s.ch <- event:
	default:
	}
}
