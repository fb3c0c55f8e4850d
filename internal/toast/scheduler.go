package toast

import (
	"cmp"
	"slices"
	"time"
)

// Scheduler tracks one expiry deadline per id. It is not safe for
// concurrent use; Queue guards it with its own lock.
type Scheduler struct {
	deadlines map[string]time.Time
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{deadlines: make(map[string]time.Time)}
}

// Schedule sets the deadline of id, replacing any earlier one.
func (s *Scheduler) Schedule(id string, at time.Time) {
	s.deadlines[id] = at
}

// Cancel drops the deadline of id and reports whether one was pending.
func (s *Scheduler) Cancel(id string) bool {
	_, ok := s.deadlines[id]
	delete(s.deadlines, id)
	return ok
}

// Due removes and returns the ids whose deadline is at or before now,
// earliest first.
func (s *Scheduler) Due(now time.Time) []string {
	var due []string
	for id, at := range s.deadlines {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	slices.SortFunc(due, func(a, b string) int {
		if c := s.deadlines[a].Compare(s.deadlines[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	for _, id := range due {
		delete(s.deadlines, id)
	}
	return due
}

// Next returns the earliest pending deadline.
func (s *Scheduler) Next() (time.Time, bool) {
	var next time.Time
	found := false
	for _, at := range s.deadlines {
		if !found || at.Before(next) {
			next, found = at, true
		}
	}
	return next, found
}

// Len returns the number of pending deadlines.
func (s *Scheduler) Len() int {
	return len(s.deadlines)
}

// Reset cancels every pending deadline.
func (s *Scheduler) Reset() {
	clear(s.deadlines)
}
