package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/cache"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
)

// JSONCache is the slice of the Redis client the read-through cache uses.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Cached serves listing summaries from Redis and falls back to next on a miss. Cache
// failures are logged and never fail the lookup.
type Cached struct {
	next   service.ListingCatalog
	cache  JSONCache
	ttl    time.Duration
	logger *logger.Logger
}

func NewCached(next service.ListingCatalog, c JSONCache, ttl time.Duration, log *logger.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{next: next, cache: c, ttl: ttl, logger: log}
}

func listingKey(id uuid.UUID) string {
	return "listing:summary:" + id.String()
}

func (c *Cached) GetListingSummary(ctx context.Context, listingID uuid.UUID) (*models.ListingSummary, error) {
	key := listingKey(listingID)

	var l models.ListingSummary
	err := c.cache.GetJSON(ctx, key, &l)
	if err == nil {
		return &l, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("listing cache read failed", zap.String("key", key), zap.Error(err))
	}

	summary, err := c.next.GetListingSummary(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, summary, c.ttl); err != nil {
		c.logger.Warn("listing cache write failed", zap.String("key", key), zap.Error(err))
	}
	return summary, nil
}
