package events

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var subscriptionSeq atomic.Uint64

// subscription is a consumer that forwards events to a channel
type subscription struct {
	name   string
	ch     chan CacheEvent
	drops  *atomic.Uint64
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Name() string { return s.name }

// ProcessEvent never blocks; a full channel drops the event
func (s *subscription) ProcessEvent(event CacheEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	select {
	case s.ch <- event:
	default:
		s.drops.Add(1)
	}
	return nil
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscribe returns a channel receiving every published event and a cancel
// function that unsubscribes and closes it. Events are dropped for this
// subscriber when its buffer is full.
func (eb *EventBus) Subscribe(buffer int) (<-chan CacheEvent, func(), error) {
	if buffer <= 0 {
		buffer = 1
	}

	sub := &subscription{
		name:  fmt.Sprintf("subscriber-%d", subscriptionSeq.Add(1)),
		ch:    make(chan CacheEvent, buffer),
		drops: &eb.counters.subscriberDrops,
	}
	if err := eb.RegisterConsumer(sub); err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			eb.unregisterConsumer(sub.name)
			sub.close()
		})
	}
	return sub.ch, cancel, nil
}
