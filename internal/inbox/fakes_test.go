package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/realtime"
	"github.com/nhle/notifier/internal/store"
)

// fakeStore is an in-memory NotificationStore with injectable failures.
type fakeStore struct {
	mu        sync.Mutex
	items     []model.Notification
	listErr   error
	listGate  chan struct{}
	updateErr error
	deleteErr error

	updateCalls  int
	markAllCalls int
	deleteCalls  int
}

func (s *fakeStore) ListNotifications(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	if s.listGate != nil {
		<-s.listGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Notification
	for _, n := range s.items {
		if n.UserID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertNotification(_ context.Context, n model.Notification) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]model.Notification{n}, s.items...)
	return n, nil
}

func (s *fakeStore) UpdateNotificationRead(_ context.Context, userID, id string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	for idx := range s.items {
		if s.items[idx].ID == id && s.items[idx].UserID == userID {
			s.items[idx].IsRead = read
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markAllCalls++
	for idx := range s.items {
		if s.items[idx].UserID == userID {
			s.items[idx].IsRead = true
		}
	}
	return nil
}

func (s *fakeStore) DeleteNotification(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for idx := range s.items {
		if s.items[idx].ID == id && s.items[idx].UserID == userID {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) calls() (update, markAll, del int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCalls, s.markAllCalls, s.deleteCalls
}

// fakeChannel hands out subscriptions the test can feed and fail.
type fakeChannel struct {
	mu       sync.Mutex
	subs     []*fakeSub
	err      error
	failNext int
	tries    int
}

func (c *fakeChannel) Subscribe(_ context.Context, f realtime.Filter) (realtime.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tries++
	if c.err != nil {
		return nil, c.err
	}
	if c.failNext > 0 {
		c.failNext--
		return nil, errors.New("relay unavailable")
	}
	sub := &fakeSub{filter: f, ch: make(chan realtime.Event, 16)}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// failSubscribes makes the next n Subscribe calls fail.
func (c *fakeChannel) failSubscribes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

func (c *fakeChannel) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tries
}

func (c *fakeChannel) latest() *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[len(c.subs)-1]
}

type fakeSub struct {
	filter realtime.Filter
	ch     chan realtime.Event

	once      sync.Once
	err       error
	mu        sync.Mutex
	cancelled bool
}

func (s *fakeSub) Events() <-chan realtime.Event { return s.ch }
func (s *fakeSub) Err() error                    { return s.err }

func (s *fakeSub) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

func (s *fakeSub) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *fakeSub) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
	})
}

func (s *fakeSub) send(n model.Notification) {
	s.ch <- realtime.InsertEvent(n)
}
