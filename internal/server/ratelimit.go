package server

import (
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/identity"
)

const maxLimiters = 10000

// rateLimiter keeps one token bucket per authenticated user.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *rateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if user, ok := identity.UserFromContext(r.Context()); ok {
			key = user.Email
		}
		if !rl.limiter(key).Allow() {
			logger.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", r.URL.Path))
			writeStatus(w, http.StatusTooManyRequests, "Too many submissions, please slow down.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
