// Package toast keeps a short, self-expiring queue of toasts for newly seen
// unread notifications.
package toast

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/logging"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/watch"
)

// Defaults.
const (
	DefaultLifetime   = 5 * time.Second
	DefaultMaxAdmit   = 3
	DefaultMaxVisible = 3
)

// Options tunes a Queue.
type Options struct {
	Lifetime   time.Duration
	MaxAdmit   int
	MaxVisible int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// OptionsFrom converts the toast section of the app config.
func OptionsFrom(cfg model.ToastConfig) Options {
	return Options{
		Lifetime:   cfg.Lifetime(),
		MaxAdmit:   DefaultMaxAdmit,
		MaxVisible: cfg.MaxVisible,
	}
}

// Queue holds the visible toasts. A notification is admitted at most once
// for the lifetime of the queue.
type Queue struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	items  []model.ToastItem
	seen   map[string]struct{}
	sched  *Scheduler
	closed bool

	wake   chan struct{}
	done   chan struct{}
	stream watch.Latest[[]model.ToastItem]
}

// New constructs an empty queue.
func New(opts Options, log *zap.Logger) *Queue {
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.MaxAdmit <= 0 {
		opts.MaxAdmit = DefaultMaxAdmit
	}
	if opts.MaxVisible <= 0 {
		opts.MaxVisible = DefaultMaxVisible
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		opts:  opts,
		log:   logging.OrNop(log),
		seen:  make(map[string]struct{}),
		sched: NewScheduler(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Derive admits unread notifications that have never been queued, in list
// order, up to MaxAdmit per call and MaxVisible in total. It returns the
// admitted toasts.
func (q *Queue) Derive(notifications []model.Notification) []model.ToastItem {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}

	now := q.opts.Now()
	var admitted []model.ToastItem
	for _, n := range notifications {
		if len(admitted) >= q.opts.MaxAdmit || len(q.items)+len(admitted) >= q.opts.MaxVisible {
			break
		}
		if n.IsRead {
			continue
		}
		if _, ok := q.seen[n.ID]; ok {
			continue
		}
		item := model.ToastItem{Notification: n, ExpiresAt: now.Add(q.opts.Lifetime)}
		admitted = append(admitted, item)
		q.seen[n.ID] = struct{}{}
		q.sched.Schedule(n.ID, item.ExpiresAt)
	}
	if len(admitted) > 0 {
		q.items = append(slices.Clone(admitted), q.items...)
	}
	q.mu.Unlock()

	if len(admitted) > 0 {
		q.signal()
		q.publish()
		q.log.Debug("toasts admitted", zap.Int("count", len(admitted)))
	}
	return admitted
}

// Dismiss removes the toast with id and cancels its expiry.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	q.sched.Cancel(id)
	removed := q.removeLocked(id)
	q.mu.Unlock()

	if removed {
		q.signal()
		q.publish()
	}
	return removed
}

// Expire removes every toast whose deadline is at or before now and returns
// their ids.
func (q *Queue) Expire(now time.Time) []string {
	q.mu.Lock()
	due := q.sched.Due(now)
	for _, id := range due {
		q.removeLocked(id)
	}
	q.mu.Unlock()

	if len(due) > 0 {
		q.publish()
	}
	return due
}

// Run expires toasts as their deadlines pass until ctx is cancelled or the
// queue is closed.
func (q *Queue) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		q.mu.Lock()
		next, ok := q.sched.Next()
		q.mu.Unlock()

		var fire <-chan time.Time
		if ok {
			timer.Reset(max(next.Sub(q.opts.Now()), 0))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-q.wake:
		case <-fire:
			q.Expire(q.opts.Now())
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// Items returns the visible toasts, newest admission first.
func (q *Queue) Items() []model.ToastItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Watch returns a latest-value stream of the visible toasts.
func (q *Queue) Watch() (<-chan []model.ToastItem, func()) {
	return q.stream.Subscribe(q.Items)
}

// Clear removes every visible toast and cancels their expiries. Ids already
// admitted stay ineligible.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.sched.Reset()
	q.items = nil
	q.mu.Unlock()

	q.signal()
	q.publish()
}

// Close cancels every pending expiry, stops Run and ends Watch streams.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.sched.Reset()
	q.items = nil
	close(q.done)
	q.mu.Unlock()

	q.stream.Close()
}

// Pending returns the number of scheduled expiries.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sched.Len()
}

func (q *Queue) removeLocked(id string) bool {
	idx := slices.IndexFunc(q.items, func(t model.ToastItem) bool { return t.ID == id })
	if idx < 0 {
		return false
	}
	q.items = slices.Delete(q.items, idx, idx+1)
	return true
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) publish() {
	q.stream.Publish(q.Items)
}
