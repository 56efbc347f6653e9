package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradewire/order-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the recent-orders
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) InsertOrder(ctx context.Context, rec *model.OrderRecord) error {
	if err := s.primary.InsertOrder(ctx, rec); err != nil {
		return err
	}
	s.cacheOrder(ctx, rec)
	// Invalidate the recent list; next read re-populates it.
	s.rdb.Del(ctx, recentKey())
	return nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.OrderRecord, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var rec model.OrderRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheOrder(ctx, rec)
	return rec, nil
}

func (s *CachedStore) ListOrders(ctx context.Context, limit int) ([]model.OrderRecord, error) {
	data, err := s.rdb.Get(ctx, recentKey()).Bytes()
	if err == nil {
		var records []model.OrderRecord
		if json.Unmarshal(data, &records) == nil && len(records) >= limit && limit > 0 {
			return records[:limit], nil
		}
	}

	records, err := s.primary.ListOrders(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, recentKey(), data, s.ttl)
	}
	return records, nil
}

func (s *CachedStore) cacheOrder(ctx context.Context, rec *model.OrderRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, orderKey(rec.ID), data, s.ttl)
}

func orderKey(id string) string { return fmt.Sprintf("order:%s", id) }
func recentKey() string         { return "orders:recent" }
