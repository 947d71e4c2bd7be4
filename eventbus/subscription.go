package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/ef-ds/deque"

	"vidbft/types"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// StreamID identifies one subscription on the bus.
type StreamID uint64

// Filter selects the events a subscription receives from Publish.
type Filter func(types.Event) bool

// MatchKinds accepts events of the given kinds.
func MatchKinds(kinds ...types.EventKind) Filter {
	set := make(map[types.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(ev types.Event) bool {
		_, ok := set[ev.Kind()]
		return ok
	}
}

// MatchNone accepts nothing; such a subscription only gets direct messages.
func MatchNone(types.Event) bool { return false }

// Subscription is an unbounded FIFO of events for one reader.
type Subscription struct {
	id     StreamID
	name   string
	filter Filter

	mtx    sync.Mutex
	queue  deque.Deque
	closed bool

	ready chan struct{}
}

func newSubscription(id StreamID, name string, filter Filter) *Subscription {
	return &Subscription{
		id:     id,
		name:   name,
		filter: filter,
		ready:  make(chan struct{}, 1),
	}
}

func (s *Subscription) ID() StreamID { return s.id }

func (s *Subscription) Name() string { return s.name }

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.queue.Len()
}

// push never blocks.
func (s *Subscription) push(ev types.Event) bool {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return false
	}
	s.queue.PushBack(ev)
	s.mtx.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

// Next returns the oldest queued event, waiting for one if needed. A done
// ctx wins over queued events.
func (s *Subscription) Next(ctx context.Context) (types.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mtx.Lock()
		if v, ok := s.queue.PopFront(); ok {
			s.mtx.Unlock()
			return v.(types.Event), nil
		}
		if s.closed {
			s.mtx.Unlock()
			return nil, ErrSubscriptionClosed
		}
		s.mtx.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// close lets the reader drain what is queued, then Next fails.
func (s *Subscription) close() {
	s.mtx.Lock()
	s.closed = true
	s.mtx.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}
