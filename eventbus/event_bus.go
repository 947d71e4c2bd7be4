// Package eventbus carries every event exchanged between consensus tasks.
//
// Publish delivers an event to each subscription whose filter accepts it;
// all subscriptions observe publications in the same order. DirectMessage
// bypasses the filter and targets a single subscription by stream id, which
// is how a phase task feeds the collector it spawned.
package eventbus

import (
	"sync"

	"github.com/tendermint/tendermint/libs/service"

	"vidbft/types"
)

type EventBus struct {
	service.BaseService

	mtx    sync.Mutex
	nextID StreamID
	subs   map[StreamID]*Subscription
}

func NewEventBus() *EventBus {
	b := &EventBus{
		subs: make(map[StreamID]*Subscription),
	}
	b.BaseService = *service.NewBaseService(nil, "EventBus", b)
	return b
}

// OnStop closes every subscription.
func (b *EventBus) OnStop() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
}

// Subscribe registers a new subscription receiving the published events
// accepted by filter.
func (b *EventBus) Subscribe(name string, filter Filter) *Subscription {
	if filter == nil {
		filter = MatchNone
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.nextID++
	sub := newSubscription(b.nextID, name, filter)
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub from the bus and closes it.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mtx.Lock()
	delete(b.subs, sub.id)
	b.mtx.Unlock()
	sub.close()
}

// Publish delivers ev to every matching subscription. It never blocks on a
// slow reader.
func (b *EventBus) Publish(ev types.Event) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for _, sub := range b.subs {
		if sub.filter(ev) {
			sub.push(ev)
		}
	}
}

// DirectMessage delivers ev to the subscription with the given id only,
// ignoring its filter. It returns false if no such subscription exists.
func (b *EventBus) DirectMessage(id StreamID, ev types.Event) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	return sub.push(ev)
}

// NumSubscriptions returns the number of live subscriptions.
func (b *EventBus) NumSubscriptions() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.subs)
}
