package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Remaining(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Limit() int
	Window() time.Duration
}

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns the sign-in limit: 10 per minute
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	}
}

// RateLimitConfigFrom converts the loaded configuration, falling back to
// the defaults for unset values.
func RateLimitConfigFrom(cfg config.RateLimitConfig) *RateLimitConfig {
	out := DefaultRateLimitConfig()
	if cfg.RequestsPerWindow > 0 {
		out.RequestsPerWindow = cfg.RequestsPerWindow
	}
	if cfg.WindowDuration > 0 {
		out.WindowDuration = cfg.WindowDuration
	}
	return out
}

// maxTrackedKeys bounds the in-memory limiter; the least recently seen
// client is forgotten first.
const maxTrackedKeys = 10000

// RateLimiter is a fixed-window limiter held in process memory
type RateLimiter struct {
	config  *RateLimitConfig
	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a new in-memory rate limiter
func NewRateLimiter(cfg *RateLimitConfig) *RateLimiter {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  cfg,
		windows: expirable.NewLRU[string, *window](maxTrackedKeys, nil, cfg.WindowDuration),
		now:     time.Now,
	}
}

// Allow counts a request for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows.Get(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.config.WindowDuration)}
		rl.windows.Add(key, w)
	}
	w.count++
	return w.count <= rl.config.RequestsPerWindow, nil
}

// Remaining returns the number of requests left in key's current window
func (rl *RateLimiter) Remaining(_ context.Context, key string) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows.Peek(key)
	if !ok || !rl.now().Before(w.resetAt) {
		return rl.config.RequestsPerWindow, nil
	}
	if remaining := rl.config.RequestsPerWindow - w.count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// TTL returns the time until key's window resets
func (rl *RateLimiter) TTL(_ context.Context, key string) (time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows.Peek(key)
	if !ok {
		return 0, nil
	}
	if ttl := w.resetAt.Sub(rl.now()); ttl > 0 {
		return ttl, nil
	}
	return 0, nil
}

// Limit returns the requests allowed per window
func (rl *RateLimiter) Limit() int { return rl.config.RequestsPerWindow }

// Window returns the window length
func (rl *RateLimiter) Window() time.Duration { return rl.config.WindowDuration }

// RateLimitMiddleware throttles requests per client address as resolved by
// httputil.ClientIPMiddleware. route labels the rejection metric. Limiter
// errors fail open.
func RateLimitMiddleware(limiter Limiter, route string, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + httputil.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))

			if allowed {
				if remaining, err := limiter.Remaining(r.Context(), key); err == nil {
					w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
				}
				next.ServeHTTP(w, r)
				return
			}

			metrics.ObserveRateLimitRejection(route)
			auth.LogAudit(r, auth.AuditEvent{
				Action:    auth.ActionRateLimited,
				Subject:   key,
				Status:    auth.StatusDenied,
				IPAddress: httputil.ClientIP(r),
				UserAgent: r.UserAgent(),
			})
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(r.Context(), limiter, key)))
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteAPIError(w, r, apierr.RateLimited("Too many requests, retry later"))
		})
	}
}

// retryAfterSeconds rounds the open window up to whole seconds, falling back
// to the full window length when the limiter cannot say.
func retryAfterSeconds(ctx context.Context, limiter Limiter, key string) int64 {
	ttl, err := limiter.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		ttl = limiter.Window()
	}
	return int64((ttl + time.Second - 1) / time.Second)
}
