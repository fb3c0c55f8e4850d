// Package inbox keeps the current user's notification cache consistent with
// the remote store: a bulk load, live inserts, and optimistic read/delete
// mutations.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/logging"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/realtime"
	"github.com/nhle/notifier/internal/store"
	"github.com/nhle/notifier/internal/watch"
)

// ErrNotInitialized is returned by operations that need a loaded user.
var ErrNotInitialized = errors.New("inbox not initialized")

// State is the lifecycle state of an Inbox.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Snapshot is a consistent copy of the inbox contents.
type Snapshot struct {
	State         State
	UserID        string
	Notifications []model.Notification
	UnreadCount   int
	Loading       bool

	// Stale is set when a mutation could not be persisted or the live
	// channel failed; the cache may differ from the remote store until the
	// next Initialize.
	Stale bool

	// LoadErr is the error of the last bulk load, if it failed.
	LoadErr error
}

// Options tunes an Inbox.
type Options struct {
	Limit              int
	MutationRetries    int
	RetryBackoff       time.Duration
	ResubscribeBackoff time.Duration
}

// OptionsFrom converts the inbox section of the app config.
func OptionsFrom(cfg model.InboxConfig) Options {
	return Options{
		Limit:              cfg.Limit,
		MutationRetries:    cfg.MutationRetries,
		RetryBackoff:       cfg.RetryBackoff(),
		ResubscribeBackoff: cfg.ResubscribeBackoff(),
	}
}

// DefaultLimit is the bulk fetch size.
const DefaultLimit = 50

// Inbox is the notification cache of one user at a time.
type Inbox struct {
	store   store.NotificationStore
	channel realtime.Channel
	log     *zap.Logger
	opts    Options

	mu       sync.Mutex
	state    State
	userID   string
	items    []model.Notification
	unread   int
	stale    bool
	loadErr  error
	pending  []model.Notification
	gen      uint64
	onInsert func(model.Notification)

	stopWatch context.CancelFunc
	watchDone chan struct{}

	stream watch.Latest[Snapshot]
}

// New constructs an uninitialized inbox.
func New(s store.NotificationStore, ch realtime.Channel, opts Options, log *zap.Logger) *Inbox {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.MutationRetries < 0 {
		opts.MutationRetries = 0
	}
	return &Inbox{
		store:   s,
		channel: ch,
		log:     logging.OrNop(log),
		opts:    opts,
	}
}

// OnInsert registers fn to be called with every live insert applied to the
// cache. fn runs on the subscription goroutine and must not call Teardown or
// Close.
func (i *Inbox) OnInsert(fn func(model.Notification)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onInsert = fn
}

// Open initializes the cache for userID and subscribes to live inserts. The
// subscription opens before the bulk fetch, and inserts that arrive while
// loading are applied once it completes.
func (i *Inbox) Open(ctx context.Context, userID string) error {
	return i.initialize(ctx, userID, true)
}

// Initialize tears down any live subscription and loads the newest records
// of userID. On failure the cache is empty and the error is returned.
func (i *Inbox) Initialize(ctx context.Context, userID string) error {
	return i.initialize(ctx, userID, false)
}

// Refresh re-opens the inbox for the current user.
func (i *Inbox) Refresh(ctx context.Context) error {
	i.mu.Lock()
	userID, subscribed := i.userID, i.stopWatch != nil
	i.mu.Unlock()

	if userID == "" {
		return ErrNotInitialized
	}
	return i.initialize(ctx, userID, subscribed)
}

func (i *Inbox) initialize(ctx context.Context, userID string, subscribe bool) error {
	if userID == "" {
		return fmt.Errorf("initializing inbox: empty user id")
	}

	i.mu.Lock()
	i.teardownLocked()
	i.state = StateLoading
	i.userID = userID
	gen := i.gen
	i.mu.Unlock()
	i.publish()

	if subscribe {
		if err := i.Subscribe(ctx, userID); err != nil {
			// The cache still loads; the feed recovers on the next Refresh.
			i.log.Warn("opening live channel", zap.String("user_id", userID), zap.Error(err))
		}
	}

	fetched, err := i.store.ListNotifications(ctx, userID, i.opts.Limit)

	i.mu.Lock()
	if gen != i.gen {
		// Superseded by a later Initialize or Teardown.
		i.mu.Unlock()
		return nil
	}
	if err != nil {
		fetched = nil
		i.loadErr = err
	}
	i.items = fetched
	applied := i.applyPendingLocked()
	i.unread = model.CountUnread(i.items)
	i.state = StateReady
	hook := i.onInsert
	i.mu.Unlock()

	i.publish()
	if hook != nil {
		for _, n := range applied {
			hook(n)
		}
	}

	if err != nil {
		i.log.Error("loading notifications", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("loading notifications: %w", err)
	}
	i.log.Debug("notifications loaded",
		zap.String("user_id", userID), zap.Int("count", len(fetched)))
	return nil
}

// applyPendingLocked prepends inserts buffered during loading, oldest
// arrival first, skipping ids already cached.
func (i *Inbox) applyPendingLocked() []model.Notification {
	var applied []model.Notification
	for _, n := range i.pending {
		if i.indexLocked(n.ID) >= 0 {
			continue
		}
		i.items = slices.Insert(i.items, 0, n)
		applied = append(applied, n)
	}
	i.pending = nil
	return applied
}

// Subscribe opens the live channel for userID, replacing any current
// subscription. The subscription lives until Teardown, a user change, or
// Close; ctx only bounds opening it.
func (i *Inbox) Subscribe(ctx context.Context, userID string) error {
	i.mu.Lock()
	if i.state == StateUninitialized || i.userID != userID {
		i.mu.Unlock()
		return ErrNotInitialized
	}
	i.stopWatchLocked()
	gen := i.gen
	i.mu.Unlock()

	filter := realtime.NotificationsFor(userID)
	sub, err := i.channel.Subscribe(ctx, filter)
	if err != nil {
		return fmt.Errorf("subscribing to notifications: %w", err)
	}

	i.mu.Lock()
	if gen != i.gen {
		i.mu.Unlock()
		sub.Cancel()
		return nil
	}
	i.stopWatchLocked()
	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	i.stopWatch = cancel
	i.watchDone = done
	i.mu.Unlock()

	go i.watch(watchCtx, done, gen, filter, sub)
	return nil
}

// watch applies live inserts until ctx is cancelled, resubscribing with
// backoff when the channel fails.
func (i *Inbox) watch(ctx context.Context, done chan struct{}, gen uint64, filter realtime.Filter, sub realtime.Subscription) {
	defer close(done)
	log := i.log.With(zap.String("user_id", filter.UserID))

	for {
		select {
		case <-ctx.Done():
			sub.Cancel()
			return
		case ev, ok := <-sub.Events():
			if ok {
				i.applyInsert(gen, ev.Record)
				continue
			}
			log.Warn("live channel failed, keeping cache", zap.Error(sub.Err()))
			i.markStale(gen)
			sub = i.resubscribe(ctx, filter, log)
			if sub == nil {
				return
			}
		}
	}
}

func (i *Inbox) resubscribe(ctx context.Context, filter realtime.Filter, log *zap.Logger) realtime.Subscription {
	var sub realtime.Subscription
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		s, err := i.channel.Subscribe(ctx, filter)
		if err != nil {
			return err
		}
		sub = s
		return nil
	}, backoff.WithContext(newBackOff(i.opts.ResubscribeBackoff), ctx), func(err error, next time.Duration) {
		log.Warn("resubscribing to live channel",
			zap.Int("attempt", attempt), zap.Duration("retry_in", next), zap.Error(err))
	})
	if err != nil {
		return nil
	}
	log.Info("live channel resubscribed", zap.Int("attempt", attempt))
	return sub
}

func (i *Inbox) applyInsert(gen uint64, n model.Notification) {
	i.mu.Lock()
	if gen != i.gen || n.UserID != i.userID {
		i.mu.Unlock()
		return
	}
	if i.state == StateLoading {
		i.pending = append(i.pending, n)
		i.mu.Unlock()
		return
	}
	if i.indexLocked(n.ID) >= 0 {
		i.mu.Unlock()
		return
	}
	i.items = slices.Insert(i.items, 0, n)
	if !n.IsRead {
		i.unread++
	}
	hook := i.onInsert
	i.mu.Unlock()

	i.publish()
	if hook != nil {
		hook(n)
	}
}

// MarkAsRead marks one notification read locally, then remotely. Marking an
// already-read notification is a no-op.
func (i *Inbox) MarkAsRead(ctx context.Context, id string) error {
	i.mu.Lock()
	if i.state == StateUninitialized {
		i.mu.Unlock()
		return ErrNotInitialized
	}
	if idx := i.indexLocked(id); idx >= 0 {
		if i.items[idx].IsRead {
			i.mu.Unlock()
			return nil
		}
		i.items[idx].IsRead = true
		if i.unread > 0 {
			i.unread--
		}
	}
	userID, gen := i.userID, i.gen
	i.mu.Unlock()
	i.publish()

	return i.persist(ctx, gen, "marking notification read", id, false, func(ctx context.Context) error {
		return i.store.UpdateNotificationRead(ctx, userID, id, true)
	})
}

// MarkAllAsRead marks every cached notification read locally, then every
// notification of the user remotely.
func (i *Inbox) MarkAllAsRead(ctx context.Context) error {
	i.mu.Lock()
	if i.state == StateUninitialized {
		i.mu.Unlock()
		return ErrNotInitialized
	}
	for idx := range i.items {
		i.items[idx].IsRead = true
	}
	i.unread = 0
	userID, gen := i.userID, i.gen
	i.mu.Unlock()
	i.publish()

	return i.persist(ctx, gen, "marking all notifications read", "", false, func(ctx context.Context) error {
		return i.store.MarkAllNotificationsRead(ctx, userID)
	})
}

// Delete removes one notification locally, then remotely. A record that is
// already gone remotely counts as deleted.
func (i *Inbox) Delete(ctx context.Context, id string) error {
	i.mu.Lock()
	if i.state == StateUninitialized {
		i.mu.Unlock()
		return ErrNotInitialized
	}
	if idx := i.indexLocked(id); idx >= 0 {
		if !i.items[idx].IsRead && i.unread > 0 {
			i.unread--
		}
		i.items = slices.Delete(i.items, idx, idx+1)
	}
	userID, gen := i.userID, i.gen
	i.mu.Unlock()
	i.publish()

	return i.persist(ctx, gen, "deleting notification", id, true, func(ctx context.Context) error {
		return i.store.DeleteNotification(ctx, userID, id)
	})
}

// persist runs a remote mutation with retries. The local change is never
// reverted; a final failure marks the snapshot stale. With notFoundOK a
// missing record means the mutation already took effect.
func (i *Inbox) persist(
	ctx context.Context,
	gen uint64,
	what, id string,
	notFoundOK bool,
	op func(context.Context) error,
) error {
	err := withRetry(ctx, i.opts.MutationRetries, i.opts.RetryBackoff, op)
	if err == nil || (notFoundOK && errors.Is(err, store.ErrNotFound)) {
		return nil
	}

	i.markStale(gen)
	i.log.Error(what, zap.String("notification_id", id), zap.Error(err))
	if id != "" {
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// markStale flags the cache of generation gen as possibly out of sync.
func (i *Inbox) markStale(gen uint64) {
	i.mu.Lock()
	marked := gen == i.gen && !i.stale
	if marked {
		i.stale = true
	}
	i.mu.Unlock()
	if marked {
		i.publish()
	}
}

// Snapshot returns a copy of the current contents.
func (i *Inbox) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked()
}

func (i *Inbox) snapshotLocked() Snapshot {
	items := make([]model.Notification, len(i.items))
	copy(items, i.items)
	return Snapshot{
		State:         i.state,
		UserID:        i.userID,
		Notifications: items,
		UnreadCount:   i.unread,
		Loading:       i.state == StateLoading,
		Stale:         i.stale,
		LoadErr:       i.loadErr,
	}
}

// Watch returns a stream that always holds the latest snapshot, starting
// with the current one, and a func that ends the stream.
func (i *Inbox) Watch() (<-chan Snapshot, func()) {
	return i.stream.Subscribe(i.Snapshot)
}

// publish replaces the pending snapshot of every watcher with the current
// one, without blocking.
func (i *Inbox) publish() {
	i.stream.Publish(i.Snapshot)
}

// Teardown cancels the live subscription and forgets the user.
func (i *Inbox) Teardown() {
	i.mu.Lock()
	i.teardownLocked()
	i.userID = ""
	done := i.watchDone
	i.watchDone = nil
	i.mu.Unlock()

	if done != nil {
		<-done
	}
	i.publish()
}

// Close tears down the inbox and ends every Watch stream.
func (i *Inbox) Close() {
	i.Teardown()
	i.stream.Close()
}

// teardownLocked stops the watch goroutine and resets the cache. Stale loads
// and events are discarded by bumping gen.
func (i *Inbox) teardownLocked() {
	i.stopWatchLocked()
	i.gen++
	i.state = StateUninitialized
	i.items = nil
	i.unread = 0
	i.stale = false
	i.loadErr = nil
	i.pending = nil
}

func (i *Inbox) stopWatchLocked() {
	if i.stopWatch != nil {
		i.stopWatch()
		i.stopWatch = nil
	}
}

func (i *Inbox) indexLocked(id string) int {
	return slices.IndexFunc(i.items, func(n model.Notification) bool { return n.ID == id })
}
