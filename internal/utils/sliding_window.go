package utils

import (
	"sync"
	"time"
)

type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	return len(w.hits)
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for idx < len(w.hits) && !w.hits[idx].After(cutoff) {
		idx++
	}
	w.hits = w.hits[idx:]
}

// KeyedWindow throttles per key, e.g. per reporter. Idle keys are dropped
// on the next call that notices them.
type KeyedWindow struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	windows map[string]*SlidingWindow
}

func NewKeyedWindow(window time.Duration, limit int) *KeyedWindow {
	return &KeyedWindow{window: window, limit: limit, windows: make(map[string]*SlidingWindow)}
}

// Allow records a hit for key and reports whether it stays within the limit.
// Hits over the limit are not recorded.
func (k *KeyedWindow) Allow(key string, now time.Time) bool {
	if k.limit <= 0 {
		return true
	}
	k.mu.Lock()
	w, ok := k.windows[key]
	if !ok {
		w = NewSlidingWindow(k.window)
		k.windows[key] = w
	}
	for other, ow := range k.windows {
		if other != key && ow.Count(now) == 0 {
			delete(k.windows, other)
		}
	}
	k.mu.Unlock()

	if w.Count(now) >= k.limit {
		return false
	}
	w.Add(now)
	return true
}

func (k *KeyedWindow) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}
