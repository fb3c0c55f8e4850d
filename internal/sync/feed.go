// Package sync bridges the notification streams into the Bubble Tea runtime.
package sync

import (
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/notifier/internal/inbox"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/session"
)

// InboxMsg is a tea.Msg carrying the latest inbox snapshot.
type InboxMsg struct {
	Snapshot inbox.Snapshot
}

// ToastsMsg is a tea.Msg carrying the visible toasts.
type ToastsMsg struct {
	Items []model.ToastItem
}

// TickMsg is a tea.Msg sent periodically so relative times and toast
// countdowns are redrawn.
type TickMsg time.Time

// msgBuffer bounds the number of undelivered messages.
const msgBuffer = 16

// Feed forwards inbox snapshots and toast lists as tea messages.
type Feed struct {
	inboxWatch func() (<-chan inbox.Snapshot, func())
	toastWatch func() (<-chan []model.ToastItem, func())

	msgCh  chan tea.Msg
	stopCh chan struct{}
	mu     gosync.Mutex
	stops  []func()
	wg     gosync.WaitGroup

	running bool
	stopped bool
}

// New creates a Feed over the given watch functions.
func New(
	inboxWatch func() (<-chan inbox.Snapshot, func()),
	toastWatch func() (<-chan []model.ToastItem, func()),
) *Feed {
	return &Feed{
		inboxWatch: inboxWatch,
		toastWatch: toastWatch,
		msgCh:      make(chan tea.Msg, msgBuffer),
		stopCh:     make(chan struct{}),
	}
}

// ForSession creates a Feed over the inbox and toast queue of s.
func ForSession(s *session.Session) *Feed {
	return New(s.Inbox().Watch, s.Toasts().Watch)
}

// Start subscribes to both streams and returns a tea.Cmd that waits for the
// first message. After handling a feed message, callers continue listening
// with WaitForNext.
func (f *Feed) Start() tea.Cmd {
	f.mu.Lock()
	if f.running || f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.running = true

	snapshots, stopInbox := f.inboxWatch()
	toasts, stopToasts := f.toastWatch()
	f.stops = append(f.stops, stopInbox, stopToasts)
	f.mu.Unlock()

	f.wg.Add(2)
	go forward(f, snapshots, func(s inbox.Snapshot) tea.Msg { return InboxMsg{Snapshot: s} })
	go forward(f, toasts, func(items []model.ToastItem) tea.Msg { return ToastsMsg{Items: items} })

	return f.waitForMsg()
}

// Stop ends both subscriptions. Pending WaitForNext commands return nil.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.running = false
	close(f.stopCh)
	stops := f.stops
	f.stops = nil
	f.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	f.wg.Wait()
}

// WaitForNext returns a tea.Cmd that waits for the next feed message.
func (f *Feed) WaitForNext() tea.Cmd {
	return f.waitForMsg()
}

// Tick returns a tea.Cmd that emits a TickMsg after interval.
func Tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (f *Feed) waitForMsg() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.msgCh:
			return msg
		case <-f.stopCh:
			return nil
		}
	}
}

// forward relays every value of stream until it closes or the feed stops.
func forward[T any](f *Feed, stream <-chan T, wrap func(T) tea.Msg) {
	defer f.wg.Done()

	for v := range stream {
		select {
		case f.msgCh <- wrap(v):
		case <-f.stopCh:
			return
		}
	}
}
