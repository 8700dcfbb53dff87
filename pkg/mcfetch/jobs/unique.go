package jobs

import (
	"sync"
	"time"
)

// UniqueWindow admits a key at most once per window. It collapses redundant submissions of
// the same idempotent job.
type UniqueWindow struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewUniqueWindow(window time.Duration) *UniqueWindow {
	return &UniqueWindow{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Allow reports whether key may run now, and if so starts its window.
func (u *UniqueWindow) Allow(key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	for k, at := range u.seen {
		if now.Sub(at) >= u.window {
			delete(u.seen, k)
		}
	}

	if _, ok := u.seen[key]; ok {
		return false
	}

	u.seen[key] = now
	return true
}
