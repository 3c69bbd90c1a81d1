package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type backend interface {
	Fetch(ctx context.Context) (domain.Snapshot, error)
	Submit(ctx context.Context, moves []domain.Move) error
}

// CachedSource wraps a board source with Redis-backed caching for fetches.
// Submitting moves evicts the cached snapshot, so the refetch that settles
// a move always reaches the API instead of a stale cache entry.
type CachedSource struct {
	base  backend
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewCachedSource creates a caching wrapper around base using the provided
// Redis client and TTL.
func NewCachedSource(base backend, client *redis.Client, projectID string, kind domain.BoardKind, ttl time.Duration) *CachedSource {
	if base == nil {
		panic("source.NewCachedSource: base source is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &CachedSource{
		base:  base,
		redis: client,
		key:   boardCacheKey(projectID, kind),
		ttl:   ttl,
	}
}

func (c *CachedSource) Fetch(ctx context.Context) (domain.Snapshot, error) {
	if snap, ok := c.loadFromCache(ctx); ok {
		return snap, nil
	}

	snap, err := c.base.Fetch(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	c.store(ctx, snap)
	return snap, nil
}

func (c *CachedSource) Submit(ctx context.Context, moves []domain.Move) error {
	if err := c.base.Submit(ctx, moves); err != nil {
		return err
	}

	c.evict(ctx)
	return nil
}

func (c *CachedSource) loadFromCache(ctx context.Context) (domain.Snapshot, bool) {
	if c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the API without failing.
			_ = c.redis.Del(ctx, c.key).Err()
		}
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, c.key).Err()
		return domain.Snapshot{}, false
	}
	return snap, true
}

func (c *CachedSource) store(ctx context.Context, snap domain.Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *CachedSource) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, c.key).Result()
}

func boardCacheKey(projectID string, kind domain.BoardKind) string {
	return "board:" + string(kind) + ":" + projectID
}
