package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores dashboard stats in Redis under a per user version. Bumping
// the version orphans every older entry, which then expires by TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(userID int64) string {
	return fmt.Sprintf("dashboard:version:%d", userID)
}

// Version returns the current cache version of userID, starting at 1.
func (c *Cache) Version(ctx context.Context, userID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(userID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(userID)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the stats key for the current version.
func (c *Cache) Key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.Version(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("dashboard:stats:%d:%d", userID, ver), nil
}

// Fetch loads cached stats under key or populates them using loader.
func (c *Cache) Fetch(ctx context.Context, key string, loader func(context.Context) (Stats, error)) (Stats, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var st Stats
		if err := json.Unmarshal(payload, &st); err == nil {
			return st, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}
	st, err := loader(ctx)
	if err != nil {
		return Stats{}, err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return Stats{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return st, err
	}
	return st, nil
}

// Invalidate bumps the version of userID.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(userID)).Err()
}
