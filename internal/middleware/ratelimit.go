package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/civicdrive/backend/internal/config"
	"github.com/civicdrive/backend/internal/services"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimiter caps requests per user in fixed windows using redis counters.
// It fails open when redis is unavailable.
type RateLimiter struct {
	redis  *redis.Client
	cfg    config.RateLimitConfig
	prefix string
	now    func() time.Time
}

func NewRateLimiter(rdb *redis.Client, cfg config.RateLimitConfig, prefix string) *RateLimiter {
	return &RateLimiter{redis: rdb, cfg: cfg, prefix: prefix, now: time.Now}
}

func (rl *RateLimiter) key(userID int64) string {
	window := rl.now().Unix() / int64(rl.cfg.Window/time.Second)
	return fmt.Sprintf("ratelimit:%s:%d:%d", rl.prefix, userID, window)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if rl.redis == nil || !ok || rl.cfg.MaxRequests <= 0 || rl.cfg.Window < time.Second {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := rl.key(userID)
		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("[RATELIMIT] counter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			if err := rl.redis.Expire(ctx, key, rl.cfg.Window).Err(); err != nil {
				logrus.WithError(err).WithField("key", key).Warn("[RATELIMIT] could not set window expiry")
			}
		}

		remaining := int64(rl.cfg.MaxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.MaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.cfg.MaxRequests) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.Window/time.Second)))
			services.SendErrorResponse(w, "Rate limit exceeded. Please try again later", http.StatusTooManyRequests, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
