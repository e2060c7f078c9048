package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/cache"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/pkg/logger"
)

type mapCache struct {
	values  map[string][]byte
	ttls    map[string]time.Duration
	readErr error
}

func newMapCache() *mapCache {
	return &mapCache{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) GetJSON(_ context.Context, key string, dst any) error {
	if m.readErr != nil {
		return m.readErr
	}
	b, ok := m.values[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(b, dst)
}

func (m *mapCache) SetJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.values[key] = b
	m.ttls[key] = ttl
	return nil
}

type countingCatalog struct {
	listing *models.ListingSummary
	calls   int
}

func (c *countingCatalog) GetListingSummary(_ context.Context, id uuid.UUID) (*models.ListingSummary, error) {
	c.calls++
	if c.listing == nil || c.listing.ID != id {
		return nil, apperr.NotFound("Listing")
	}
	l := *c.listing
	return &l, nil
}

func TestCached_ReadThrough(t *testing.T) {
	id := uuid.New()
	next := &countingCatalog{listing: &models.ListingSummary{ID: id, Title: "2019 Honda Civic", Price: 18500}}
	mc := newMapCache()
	c := NewCached(next, mc, time.Minute, logger.NewNop())

	for i := 0; i < 3; i++ {
		l, err := c.GetListingSummary(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "2019 Honda Civic", l.Title)
	}
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, time.Minute, mc.ttls[listingKey(id)])
}

func TestCached_NotFoundIsNotCached(t *testing.T) {
	next := &countingCatalog{}
	mc := newMapCache()
	c := NewCached(next, mc, 0, logger.NewNop())

	_, err := c.GetListingSummary(context.Background(), uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Empty(t, mc.values)
}

func TestCached_CacheFailureFallsThrough(t *testing.T) {
	id := uuid.New()
	next := &countingCatalog{listing: &models.ListingSummary{ID: id, Title: "Tacoma"}}
	mc := newMapCache()
	mc.readErr = errors.New("redis: connection refused")
	c := NewCached(next, mc, time.Minute, logger.NewNop())

	l, err := c.GetListingSummary(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Tacoma", l.Title)
	assert.Equal(t, 1, next.calls)
}
