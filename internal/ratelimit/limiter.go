package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

type Status struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type entry struct {
	id         string
	timestamps []time.Time
}

// Limiter is a sliding-window admission counter keyed by identifier. The
// set of tracked identifiers is bounded by LRU eviction so an open caller
// population cannot grow the map without bound.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	maxIDs   int
	entries  map[string]*list.Element
	order    *list.List // front = most recently touched
	now      func() time.Time
}

func New(limit int, interval time.Duration, maxIdentifiers int) *Limiter {
	if maxIdentifiers <= 0 {
		maxIdentifiers = 1024
	}
	return &Limiter{
		limit:    limit,
		interval: interval,
		maxIDs:   maxIdentifiers,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Admit records the call and returns true iff the identifier is under its
// budget in the current window. Denied calls are not recorded.
func (l *Limiter) Admit(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e := l.touch(id, now)
	if len(e.timestamps) >= l.limit {
		return false
	}
	e.timestamps = append(e.timestamps, now)
	return true
}

// Remaining reports how many calls the identifier can still make in the
// current window.
func (l *Limiter) Remaining(id string) int {
	return l.Status(id).Remaining
}

// Status is a pure read: it never creates an entry for an unknown id and
// never bumps the LRU order, so probing arbitrary ids cannot evict live
// callers' windows.
func (l *Limiter) Status(id string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	used := 0
	resetAt := now
	if elem, ok := l.entries[id]; ok {
		cutoff := now.Add(-l.interval)
		for _, ts := range elem.Value.(*entry).timestamps {
			if !ts.After(cutoff) {
				continue
			}
			if used == 0 {
				resetAt = ts.Add(l.interval)
			}
			used++
		}
	}

	remaining := l.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Used:      used,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// touch prunes expired timestamps, bumps the identifier in the LRU order
// and evicts the coldest identifier when over capacity. Caller holds mu.
func (l *Limiter) touch(id string, now time.Time) *entry {
	cutoff := now.Add(-l.interval)

	elem, ok := l.entries[id]
	if !ok {
		elem = l.order.PushFront(&entry{id: id})
		l.entries[id] = elem
		if l.order.Len() > l.maxIDs {
			oldest := l.order.Back()
			if oldest != nil && oldest != elem {
				l.order.Remove(oldest)
				delete(l.entries, oldest.Value.(*entry).id)
			}
		}
	} else {
		l.order.MoveToFront(elem)
	}

	e := elem.Value.(*entry)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept
	return e
}

// TrackedIdentifiers reports how many identifiers are currently held.
func (l *Limiter) TrackedIdentifiers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
