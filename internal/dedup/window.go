// Package dedup tracks recently-seen message ids in a time-bounded window.
package dedup

import (
	"sync"
	"time"
)

// Window is a fixed-capacity set of message ids with per-id expiry. Expiry is
// lazy: stale entries are swept on insert, so no per-id timers exist. Safe
// for concurrent use.
type Window struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu    sync.Mutex
	seen  map[string]time.Time
	order []string
}

// NewWindow creates a window with the given per-id ttl and capacity bound.
func NewWindow(ttl time.Duration, max int) *Window {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if max <= 0 {
		max = 512
	}
	return &Window{
		ttl:  ttl,
		max:  max,
		now:  time.Now,
		seen: map[string]time.Time{},
	}
}

// Observe records the id and reports whether it is new within the window.
// The id is inserted before the caller processes the message, so a retried
// duplicate is dropped even while the first is still being handled.
func (w *Window) Observe(id string) bool {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sweepLocked(now)

	if expiry, ok := w.seen[id]; ok && now.Before(expiry) {
		return false
	}
	if _, tracked := w.seen[id]; !tracked {
		w.order = append(w.order, id)
	}
	w.seen[id] = now.Add(w.ttl)

	// Capacity bound: drop the oldest tracked ids.
	for len(w.order) > w.max {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	return true
}

// Len reports the number of tracked ids, expired entries included until the
// next sweep.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) sweepLocked(now time.Time) {
	kept := w.order[:0]
	for _, id := range w.order {
		expiry, ok := w.seen[id]
		if !ok {
			continue
		}
		if now.Before(expiry) {
			kept = append(kept, id)
			continue
		}
		delete(w.seen, id)
	}
	w.order = kept
}
