package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles REST calls per transaction code.
type RateLimiter struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	overrides map[string]float64
	perSecond float64
}

// NewRateLimiter allows perSecond calls for any code not listed in overrides.
func NewRateLimiter(perSecond float64, overrides map[string]float64) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	o := make(map[string]float64, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		overrides: o,
		perSecond: perSecond,
	}
}

func (rl *RateLimiter) limiter(code string) *rate.Limiter {
	rl.mu.RLock()
	l, ok := rl.limiters[code]
	rl.mu.RUnlock()
	if ok {
		return l
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[code]; ok {
		return l
	}
	r := rl.perSecond
	if v, ok := rl.overrides[code]; ok && v > 0 {
		r = v
	}
	l = rate.NewLimiter(rate.Limit(r), 1)
	rl.limiters[code] = l
	return l
}

// Wait blocks until a call for code is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, code string) error {
	if rl == nil {
		return nil
	}
	return rl.limiter(code).Wait(ctx)
}
