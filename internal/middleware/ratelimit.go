package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/natours/internal/apperror"
)

// RateLimiter allows max requests per fixed window for each client IP. A
// client's bucket starts full on its first request and is replaced once the
// window has elapsed.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	max      int
	window   time.Duration
	errors   *apperror.Responder
	now      func() time.Time
}

type visitor struct {
	limiter *rate.Limiter
	resetAt time.Time
}

func NewRateLimiter(max int, window time.Duration, errs *apperror.Responder) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		max:      max,
		window:   window,
		errors:   errs,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := rl.now()
		limiter := rl.limiter(clientIP(r), now)

		allowed := limiter.AllowN(now, 1)
		remaining := int(limiter.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			rl.errors.Respond(w, r, apperror.TooManyRequests("Too many requests from this IP, please try again in an hour!"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok || !now.Before(v.resetAt) {
		// One token per window never refills a whole request before the reset.
		v = &visitor{
			limiter: rate.NewLimiter(rate.Every(rl.window), rl.max),
			resetAt: now.Add(rl.window),
		}
		rl.visitors[ip] = v
	}
	return v.limiter
}

// Prune forgets clients whose window has ended. It returns the number
// removed.
func (rl *RateLimiter) Prune() int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, v := range rl.visitors {
		if !now.Before(v.resetAt) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
