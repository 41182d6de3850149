package cache

import (
	"context"
	"fmt"

	"drive-go/internal/config"
	"drive-go/internal/drive"
)

// NewCacheFromConfig creates a ListingCache implementation based on the cache config type.
// The returned close function releases backend connections.
func NewCacheFromConfig(ctx context.Context, cfg config.CacheConfig) (drive.ListingCache, func() error, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryCache(cfg.MaxEntries), func() error { return nil }, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("redis cache requires redis_addr to be set")
		}
		c, err := NewRedisCache(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
