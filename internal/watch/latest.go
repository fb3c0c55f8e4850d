// Package watch provides latest-value streams: each subscriber holds at most
// one pending value, and a newer value replaces an unread one.
package watch

import "sync"

// Latest fans values out to subscribers without ever blocking the publisher.
// The zero value is ready to use.
type Latest[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
}

// Subscribe returns a stream primed with current() and a func that ends it.
// On a closed Latest the stream is already closed.
func (l *Latest[T]) Subscribe(current func() T) (<-chan T, func()) {
	ch := make(chan T, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if l.subs == nil {
		l.subs = make(map[int]chan T)
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	ch <- current()
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if _, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(ch)
			}
		})
	}
}

// Publish replaces every subscriber's pending value with current(). current
// is evaluated under the stream lock, so concurrent publishers deliver in
// the order their values were taken.
func (l *Latest[T]) Publish(current func() T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.subs) == 0 {
		return
	}
	v := current()
	for _, ch := range l.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Len returns the number of open subscriptions.
func (l *Latest[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Close ends every stream and rejects new subscribers.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
}
