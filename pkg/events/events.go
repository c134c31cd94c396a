/*
Package events implements in-process event fan-out: subscribers
register a (tenant, filter-list) pair and receive every successfully
put item whose indexes satisfy any filter in the list. Unlike the
buffered, goroutine-driven broker this package is adapted from,
delivery here is synchronous on the publishing call and
single-threaded cooperative — a blocking subscriber blocks the
publisher.
*/
package events

import (
	"sync"

	"github.com/dwn-core/dwn/pkg/indexlevel"
	"github.com/dwn-core/dwn/pkg/message"
	"github.com/dwn-core/dwn/pkg/metrics"
	"github.com/dwn-core/dwn/pkg/query"
)

// Event is what a subscriber's callback receives for one matching put.
type Event struct {
	Tenant  string
	Message message.Message
	Indexes indexlevel.Indexes
}

// Handler is a subscriber's callback. A Handler that panics is recovered
// and logged by Bus.Publish, never re-thrown into the publisher.
type Handler func(Event)

// Subscription is the handle returned by Subscribe; Close unregisters
// the handler.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Close unregisters the subscription. Closing an already-closed
// Subscription is a no-op.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id      uint64
	tenant  string
	filters query.Filters
	handler Handler
}

type pendingMutation struct {
	subscribe   *subscriber
	unsubscribe uint64
	isUnsub     bool
}

// Bus is the event fan-out hub. The zero value is ready to use.
type Bus struct {
	mu          sync.Mutex
	subscribers []*subscriber
	nextID      uint64
	delivering  bool
	pending     []pendingMutation
	onPanic     func(recovered any)
}

// New builds an empty Bus. onPanic, if non-nil, is invoked (outside any
// lock) whenever a subscriber handler panics; a nil onPanic silently
// recovers.
func New(onPanic func(recovered any)) *Bus {
	return &Bus{onPanic: onPanic}
}

// Subscribe registers handler to receive every future Publish for
// tenant whose indexes satisfy any conjunct in filters.
func (b *Bus) Subscribe(tenant string, filters query.Filters, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, tenant: tenant, filters: filters, handler: handler}
	if b.delivering {
		b.pending = append(b.pending, pendingMutation{subscribe: sub})
	} else {
		b.subscribers = append(b.subscribers, sub)
	}
	metrics.ActiveSubscribers.Inc()
	return &Subscription{bus: b, id: sub.id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.delivering {
		b.pending = append(b.pending, pendingMutation{unsubscribe: id, isUnsub: true})
		return
	}
	b.removeByID(id)
}

func (b *Bus) removeByID(id uint64) {
	for i, s := range b.subscribers {
		if s.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			metrics.ActiveSubscribers.Dec()
			return
		}
	}
}

// Publish synchronously invokes every matching subscriber's handler, in
// registration order, before returning. Subscribe/Unsubscribe calls that
// arrive from inside a handler are queued and applied once this Publish
// call finishes, so a handler can safely add or remove subscriptions
// without corrupting the list being iterated.
func (b *Bus) Publish(ev Event) {
	metrics.EventsPublishedTotal.Inc()

	b.mu.Lock()
	b.delivering = true
	matching := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.tenant == ev.Tenant && query.MatchesAny(ev.Indexes, s.filters) {
			matching = append(matching, s)
		}
	}
	b.mu.Unlock()

	for _, s := range matching {
		b.invoke(s, ev)
	}

	b.mu.Lock()
	b.delivering = false
	pending := b.pending
	b.pending = nil
	for _, p := range pending {
		if p.isUnsub {
			b.removeByID(p.unsubscribe)
		} else {
			b.subscribers = append(b.subscribers, p.subscribe)
		}
	}
	b.mu.Unlock()
}

func (b *Bus) invoke(s *subscriber, ev Event) {
	metrics.EventHandlersInvokedTotal.Inc()
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(r)
		}
	}()
	s.handler(ev)
}

// SubscriberCount reports the number of currently registered
// subscriptions (pending additions from an in-flight delivery are not
// yet counted).
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
