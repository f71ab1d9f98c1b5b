package cooldown

import (
	"sync"
	"time"

	"modbot/internal/apperr"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Limiter throttles commands per user and command. Idle limiters expire
// from the cache, which also resets them.
type Limiter struct {
	mu       sync.Mutex
	every    time.Duration
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
}

// New allows burst calls at once and one more every `every` after that.
func New(every time.Duration, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	idle := every * time.Duration(burst)
	if idle < time.Minute {
		idle = time.Minute
	}
	return &Limiter{
		every:    every,
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](4096, nil, idle),
	}
}

func (l *Limiter) Allow(userID, command string, now time.Time) error {
	if l == nil || l.every <= 0 {
		return nil
	}
	limiter := l.limiter(userID + "|" + command)
	if limiter.AllowN(now, 1) {
		return nil
	}
	wait := time.Duration((1 - limiter.TokensAt(now)) * float64(l.every))
	if wait < time.Second {
		wait = time.Second
	}
	return apperr.Userf(apperr.BlockedAction, "Slow down! Try `%s` again in %s.", command, wait.Round(time.Second))
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.every), l.burst)
		l.limiters.Add(key, limiter)
	}
	return limiter
}
