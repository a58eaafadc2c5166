package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache stores snapshots as JSON under attendance:<event id>.
type RedisCache struct {
	Client redis.Cmdable
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{Client: client}
}

func cacheKey(eventID string) string { return "attendance:" + eventID }

func (c *RedisCache) Get(ctx context.Context, eventID string) (*Snapshot, bool, error) {
	raw, err := c.Client.Get(ctx, cacheKey(eventID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("decode cached attendance for %s: %w", eventID, err)
	}
	return &snap, true, nil
}

func (c *RedisCache) Set(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, cacheKey(snap.EventID), raw, ttl).Err()
}
