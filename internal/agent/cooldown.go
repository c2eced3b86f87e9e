package agent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// cooldownGate enforces a minimum spacing between turns of the same
// conversation. One token-bucket-of-one limiter per conversation key;
// waiting suspends only the current turn, never other conversations.
type cooldownGate struct {
	mu       sync.Mutex
	period   time.Duration
	limiters map[string]*rate.Limiter
}

func newCooldownGate(period time.Duration) *cooldownGate {
	return &cooldownGate{
		period:   period,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the conversation's cooldown has elapsed or the
// context is cancelled.
func (g *cooldownGate) Wait(ctx context.Context, key string) error {
	if g.period <= 0 {
		return nil
	}

	g.mu.Lock()
	limiter, ok := g.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.period), 1)
		g.limiters[key] = limiter
	}
	g.mu.Unlock()

	return limiter.Wait(ctx)
}
