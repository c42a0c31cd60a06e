package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ipLimiterIdle is how long an unused per-IP limiter is kept.
const ipLimiterIdle = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware implements token bucket rate limiting, globally and per client IP.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	global  *rate.Limiter

	mu         sync.Mutex
	ipLimiters map[string]*ipLimiter
	lastSweep  time.Time
	now        func() time.Time
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		global:     rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		ipLimiters: make(map[string]*ipLimiter),
		now:        time.Now,
	}
}

// Handler applies the global limit.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || rl.global.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		rl.reject(w, r, "global")
	})
}

// HandlerPerIP applies a per-client limit of a tenth of the global one.
func (rl *RateLimitMiddleware) HandlerPerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || rl.getIPLimiter(clientIP(r)).Allow() {
			next.ServeHTTP(w, r)
			return
		}
		rl.reject(w, r, "per_ip")
	})
}

func (rl *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, scope string) {
	rl.logger.Warn("rate limit exceeded",
		zap.String("scope", scope),
		zap.String("path", r.URL.Path),
		zap.String("ip", clientIP(r)),
	)
	if rl.metrics != nil {
		rl.metrics.RecordRateLimitHit(scope)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

func (rl *RateLimitMiddleware) getIPLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > ipLimiterIdle {
		rl.sweep(now)
	}
	l, ok := rl.ipLimiters[ip]
	if !ok {
		burst := rl.cfg.Burst / 10
		if burst < 1 {
			burst = 1
		}
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS/10), burst)}
		rl.ipLimiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter
}

// CleanupIPLimiters drops per-IP limiters idle for longer than ipLimiterIdle
// and returns how many remain. getIPLimiter also sweeps on its own.
func (rl *RateLimitMiddleware) CleanupIPLimiters() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweep(rl.now())
	return len(rl.ipLimiters)
}

func (rl *RateLimitMiddleware) sweep(now time.Time) {
	cutoff := now.Add(-ipLimiterIdle)
	for ip, l := range rl.ipLimiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.ipLimiters, ip)
		}
	}
	rl.lastSweep = now
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
