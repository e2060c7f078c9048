package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SharedLimiter is a limiter shared by every server instance, such as the Redis token
// bucket in the cache package.
type SharedLimiter interface {
	AllowAction(ctx context.Context, userID uuid.UUID, action string, rate int, burst int) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits actions per user. With a shared limiter configured it is consulted
// first; when it errors the in-process limiter decides.
type RateLimiter struct {
	limiters map[uuid.UUID]*limiterEntry
	mu       sync.Mutex
	rps      int
	burst    int
	shared   SharedLimiter
	logger   *logger.Logger
}

func NewRateLimiter(rps int, shared SharedLimiter, log *logger.Logger) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RateLimiter{
		limiters: make(map[uuid.UUID]*limiterEntry),
		rps:      rps,
		burst:    rps * 2,
		shared:   shared,
		logger:   log,
	}
}

func (rl *RateLimiter) getLimiter(userID uuid.UUID) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.limiters[userID]
	if !exists {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.limiters[userID] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow reports whether userID may perform action now.
func (rl *RateLimiter) Allow(ctx context.Context, userID uuid.UUID, action string) bool {
	if rl.shared != nil {
		ok, err := rl.shared.AllowAction(ctx, userID, action, rl.rps, rl.burst)
		if err == nil {
			return ok
		}
		rl.logger.Warn("shared rate limiter unavailable", zap.Error(err))
	}
	return rl.getLimiter(userID).Allow()
}

// Cleanup evicts limiters idle for longer than idle, every interval, until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.evictIdle(now, idle)
			}
		}
	}()
}

func (rl *RateLimiter) evictIdle(now time.Time, idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for id, e := range rl.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(rl.limiters, id)
			n++
		}
	}
	return n
}

// RateLimitMiddleware limits requests per user. It runs after AuthMiddleware; anonymous
// requests pass through.
func RateLimitMiddleware(rl *RateLimiter, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.Next()
			return
		}

		if !rl.Allow(c.Request.Context(), u.ID, action) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}
