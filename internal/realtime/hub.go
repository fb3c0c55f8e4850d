package realtime

import (
	"context"
	"sync"
)

// subscriberBuffer is how many undelivered events a subscriber may hold
// before the hub drops it.
const subscriberBuffer = 64

// Hub is an in-process Channel and Publisher. Subscribers are grouped by
// user; a subscriber whose buffer is full is dropped with ErrOverflow so it
// can resubscribe instead of silently missing events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSubscription]struct{}
	closed bool
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*hubSubscription]struct{}),
	}
}

// Subscribe registers a subscriber for f.
func (h *Hub) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	sub := &hubSubscription{
		hub:    h,
		filter: f,
		ch:     make(chan Event, subscriberBuffer),
	}
	set := h.subs[f.UserID]
	if set == nil {
		set = make(map[*hubSubscription]struct{})
		h.subs[f.UserID] = set
	}
	set[sub] = struct{}{}

	return sub, nil
}

// Publish fans ev out to the matching subscribers of ev.Record.UserID.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	var overflowed []*hubSubscription

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	for sub := range h.subs[ev.Record.UserID] {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflowed {
		h.remove(sub, ErrOverflow)
	}
	return nil
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Fail ends every open subscription with err, so subscribers learn their
// feed broke upstream and can resubscribe. The hub stays open.
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, set := range h.subs {
		for sub := range set {
			sub.finish(err)
		}
		delete(h.subs, userID)
	}
}

// Close ends every subscription with ErrClosed and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.subs {
		for sub := range set {
			sub.finish(ErrClosed)
		}
		delete(h.subs, userID)
	}
}

// remove unregisters sub and closes its stream with err. Sends only happen
// under the read lock, so closing under the write lock is safe.
func (h *Hub) remove(sub *hubSubscription, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[sub.filter.UserID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.filter.UserID)
	}
	sub.finish(err)
}

type hubSubscription struct {
	hub    *Hub
	filter Filter
	ch     chan Event

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *hubSubscription) Events() <-chan Event { return s.ch }

func (s *hubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *hubSubscription) Cancel() {
	s.hub.remove(s, nil)
}

func (s *hubSubscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}
