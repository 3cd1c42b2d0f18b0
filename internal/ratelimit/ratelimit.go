// Package ratelimit provides a redis-backed fixed-window limiter for the
// ingest endpoint, grounded in the gateway teacher's
// middleware.RateLimiter (per-key window, X-RateLimit-* response headers)
// but backed by Redis INCR/EXPIRE so the limit holds across every engine
// process rather than per-instance.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter enforces rpm requests per minute per key.
type Limiter struct {
	rdb     *redis.Client
	logger  *zap.Logger
	enabled bool
	rpm     int
}

func New(rdb *redis.Client, logger *zap.Logger, enabled bool, rpm int) *Limiter {
	return &Limiter{rdb: rdb, logger: logger, enabled: enabled, rpm: rpm}
}

// Allow reports whether key may proceed, along with the remaining quota
// and the time the window resets.
func (l *Limiter) Allow(ctx context.Context, key string) (allowed bool, remaining int, resetAt time.Time) {
	if !l.enabled {
		return true, l.rpm, time.Time{}
	}

	window := time.Now().UTC().Truncate(time.Minute)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window.Unix())

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn("ratelimit: redis unavailable, failing open", zap.Error(err))
		return true, l.rpm, window.Add(time.Minute)
	}
	if count == 1 {
		l.rdb.Expire(ctx, redisKey, time.Minute)
	}

	resetAt = window.Add(time.Minute)
	remaining = l.rpm - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(l.rpm), remaining, resetAt
}

// Middleware wraps next with Allow, keyed by remote address. internal/httpapi
// mounts this in front of its ingest and dry-run POST routes.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		allowed, remaining, resetAt := l.Allow(r.Context(), key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.rpm))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !resetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
			http.Error(w, `{"error":"rate_limit_exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
