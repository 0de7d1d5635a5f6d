package census

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a request limiter that speeds up on success and backs
// off when the API answers 429. The rate stays within [initial/4, initial*2].
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	ceil    rate.Limit
	floor   rate.Limit
}

// NewAdaptiveLimiter returns a limiter starting at perSecond requests.
func NewAdaptiveLimiter(perSecond float64, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	r := rate.Limit(perSecond)
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(r, burst),
		current: r,
		ceil:    r * 2,
		floor:   r / 4,
	}
}

// Wait blocks until a request may be sent. When ctx ends first it returns
// ctx.Err().
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := a.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// OnSuccess raises the rate by 20%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(min(a.current*1.2, a.ceil))
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(max(a.current*0.5, a.floor))
	zap.L().Warn("census: rate limited, slowing down",
		zap.String("component", "census"),
		zap.Float64("rate", float64(a.current)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.current = r
	a.limiter.SetLimit(r)
}
