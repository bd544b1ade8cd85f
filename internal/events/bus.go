// Package events is an in-process pub/sub distributing capture/
// autorun/supervisor/rpc events to subscribers (TUI panes, the
// dashboard WebSocket broadcaster) without ever blocking the producer
// on a slow subscriber.
package events

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event kinds the bus carries.
type Type string

const (
	TypeCaptureData         Type = "capture:data"
	TypeCaptureSessionDead  Type = "capture:sessionDead"
	TypeCaptureError        Type = "capture:error"
	TypeAutoPermission      Type = "auto:permissionHandled"
	TypeAutoCompleted       Type = "auto:completed"
	TypeSupervisorStarted   Type = "supervisor:sessionStarted"
	TypeSupervisorStopped   Type = "supervisor:sessionStopped"
	TypeRPCNotification     Type = "rpc:notification"
	TypeRPCError            Type = "rpc:error"
)

// Event is one message flowing through the bus.
type Event struct {
	ID        string
	Type      Type
	Session   string
	Data      any
	Timestamp time.Time
}

// DefaultBacklog is the per-subscriber queue depth before the oldest
// queued event is dropped.
const DefaultBacklog = 1000

// Bus fans out events to subscribers. Delivery is best-effort,
// at-most-once per subscriber per event. The zero value is not usable;
// construct with New.
type Bus struct {
	backlog     int
	subscribe   chan subscribeReq
	unsubscribe chan uint64
	publish     chan Event
	closeCh     chan struct{}
	idSeq       atomic.Uint64
}

type subscribeReq struct {
	id    uint64
	reply chan<- chan Event
}

// New creates a Bus with the given per-subscriber backlog (<=0 uses
// DefaultBacklog) and starts its dispatch goroutine.
func New(backlog int) *Bus {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	b := &Bus{
		backlog:     backlog,
		subscribe:   make(chan subscribeReq),
		unsubscribe: make(chan uint64),
		publish:     make(chan Event, 4096),
		closeCh:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscription is a handle to one subscriber's event channel.
type Subscription struct {
	id     uint64
	ch     chan Event
	bus    *Bus
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	select {
	case s.bus.unsubscribe <- s.id:
	case <-s.bus.closeCh:
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	id := b.idSeq.Add(1)
	ch := make(chan Event, b.backlog)
	reply := make(chan chan Event, 1)
	select {
	case b.subscribe <- subscribeReq{id: id, reply: reply}:
	case <-b.closeCh:
		close(ch)
		return &Subscription{id: id, ch: ch, bus: b}
	}
	ch = <-reply
	return &Subscription{id: id, ch: ch, bus: b}
}

// Publish enqueues an event for fan-out on the bus's internal dispatch
// queue, which holds up to 4096 events; Publish blocks only while that
// queue is full.
func (b *Bus) Publish(typ Type, session string, data any) {
	ev := Event{ID: uuid.NewString(), Type: typ, Session: session, Data: data, Timestamp: time.Now()}
	select {
	case b.publish <- ev:
	case <-b.closeCh:
	}
}

// Stop shuts the bus down and closes all subscriber channels.
func (b *Bus) Stop() {
	close(b.closeCh)
}

func (b *Bus) run() {
	subs := make(map[uint64]chan Event)
	for {
		select {
		case <-b.closeCh:
			for _, ch := range subs {
				close(ch)
			}
			return
		case req := <-b.subscribe:
			ch := make(chan Event, b.backlog)
			subs[req.id] = ch
			req.reply <- ch
		case id := <-b.unsubscribe:
			if ch, ok := subs[id]; ok {
				close(ch)
				delete(subs, id)
			}
		case ev := <-b.publish:
			for _, ch := range subs {
				select {
				case ch <- ev:
				default:
					// Backlog full: drop the oldest queued event for
					// this subscriber, then enqueue the new one.
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- ev:
					default:
					}
				}
			}
		}
	}
}
