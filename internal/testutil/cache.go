package testutil

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
)

var (
	cacheOnce   sync.Once
	sharedCache *cache.Cache
	cacheErr    error
)

// GetCache returns a shared Redis client, or skips the test when no Redis is
// reachable.
func GetCache(t *testing.T) *cache.Cache {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}

	cacheOnce.Do(func() {
		port, err := strconv.Atoi(envOr("TEST_REDIS_PORT", "6379"))
		if err != nil {
			port = 6379
		}
		dbNum, err := strconv.Atoi(envOr("TEST_REDIS_DB", "15"))
		if err != nil {
			dbNum = 15
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		sharedCache, cacheErr = cache.New(ctx, config.RedisConfig{
			Host:     envOr("TEST_REDIS_HOST", "localhost"),
			Port:     port,
			Password: envOr("TEST_REDIS_PASSWORD", ""),
			DB:       dbNum,
		})
	})

	if cacheErr != nil {
		t.Skipf("testutil: redis not available: %v", cacheErr)
	}
	return sharedCache
}

func CacheTeardown() {
	if sharedCache != nil {
		_ = sharedCache.Close()
		sharedCache = nil
	}
}
