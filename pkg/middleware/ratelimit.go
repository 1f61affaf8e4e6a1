package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused client limiter is kept.
const idleLimiterTTL = time.Hour

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client IP with the given burst.
// A perMinute of zero or less disables limiting.
func NewRateLimiter(perMinute, burst int, logger *zap.Logger) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   limit,
		burst:   burst,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether a request from clientIP may proceed now.
func (l *RateLimiter) Allow(clientIP string) bool {
	if l.limit == rate.Inf {
		return true
	}
	return l.limiterFor(clientIP).AllowN(l.now(), 1)
}

func (l *RateLimiter) limiterFor(clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[clientIP]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientIP] = c
	}
	c.lastSeen = l.now()
	return c.limiter
}

// Cleanup drops limiters for clients idle longer than idleLimiterTTL.
func (l *RateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleLimiterTTL)
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// StartCleanup runs Cleanup periodically until ctx is done.
func (l *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

// Limit wraps next, answering 429 once a client exceeds its budget.
func (l *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if l.Allow(ip) {
			next(w, r)
			return
		}

		l.logger.Info("Rate limit exceeded", zap.String("client_ip", ip), zap.String("path", r.URL.Path))
		retryAfter := 1
		if l.limit > 0 {
			retryAfter = max(1, int(math.Round(1/float64(l.limit))))
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		if err := json.NewEncoder(w).Encode(map[string]string{
			"error":   "rate_limited",
			"message": "Too many uploads, try again later",
		}); err != nil {
			l.logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are not
// trusted; deployments behind a proxy must rewrite RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
