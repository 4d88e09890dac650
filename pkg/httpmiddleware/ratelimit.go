package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client token bucket limiter.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second.
	Rate float64
	// Burst is the bucket size.
	Burst int
	// IdleTTL is how long an unused client bucket is kept. Defaults to ten
	// minutes.
	IdleTTL time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// Skip, when set, exempts matching requests.
	Skip func(*http.Request) bool
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client key.
type rateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Ceil(cfg.Rate))
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &rateLimiter{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// allow takes a token for key. It returns the tokens left and, when denied,
// how long until the next token is available.
func (rl *rateLimiter) allow(key string) (remaining int, retryAfter time.Duration, allowed bool) {
	now := rl.now()

	rl.mu.Lock()
	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.cfg.Rate), rl.cfg.Burst)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0, time.Second, false
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return 0, delay, false
	}
	tokens := e.limiter.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	return int(tokens), 0, true
}

// cleanup removes buckets idle for longer than IdleTTL.
func (rl *rateLimiter) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) >= rl.cfg.IdleTTL {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// startCleanup evicts idle buckets every IdleTTL until ctx is done.
func (rl *rateLimiter) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(rl.cfg.IdleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.cleanup(now)
			}
		}
	}()
}

// RateLimit returns a middleware enforcing a per-key token bucket. Denied
// requests get 429 with a JSON body and Retry-After. Every response carries
// X-RateLimit-Limit and X-RateLimit-Remaining.
//
// Buckets are never evicted; use RateLimitWithCleanup in servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is like RateLimit but evicts idle buckets in the
// background until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	rl.startCleanup(ctx)
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := rl.cfg.KeyFunc(r)
			remaining, retryAfter, allowed := rl.allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				zctx.From(r.Context()).Info("Rate limit exceeded",
					zap.String("client", key),
					zap.String("path", r.URL.Path),
				)
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderKeyFunc keys requests by the value of header, falling back to the
// client IP when the header is absent.
func HeaderKeyFunc(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return defaultKeyFunc(r)
	}
}
