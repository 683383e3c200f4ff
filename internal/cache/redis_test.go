package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCache(client), mr
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)

	cart := &domain.Cart{
		UserID: "user123",
		Items: []domain.CartItem{
			{ProductID: "sku-1", Quantity: 2},
			{ProductID: "sku-2", Quantity: 3},
		},
	}
	cartJSON, err := json.Marshal(cart)
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey("user123"), string(cartJSON)))

	result, err := cache.Get(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, "user123", result.UserID)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, "sku-1", result.Items[0].ProductID)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	result, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("user123"), `{"user_id":`))

	_, err := cache.Get(context.Background(), "user123")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestGet_RedisDown(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	_, err := cache.Get(context.Background(), "user123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestSet_StoresWithJitteredTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)

	cart := &domain.Cart{UserID: "user789", Items: []domain.CartItem{{ProductID: "sku-1", Quantity: 5}}}
	require.NoError(t, cache.Set(context.Background(), "user789", cart, 0))

	stored, err := mr.Get(cacheKey("user789"))
	require.NoError(t, err)

	var storedCart domain.Cart
	require.NoError(t, json.Unmarshal([]byte(stored), &storedCart))
	assert.Equal(t, 5, storedCart.Quantity("sku-1"))

	ttl := mr.TTL(cacheKey("user789"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.Less(t, ttl, 20*time.Minute)
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(cacheKey("user999"), `{}`))

	require.NoError(t, cache.Delete(ctx, "user999"))
	assert.False(t, mr.Exists(cacheKey("user999")))

	version, err := cache.Version(ctx, "user999")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Greater(t, mr.TTL(versionKey("user999")), time.Duration(0))

	// deleting a missing key is fine
	require.NoError(t, cache.Delete(context.Background(), "nonexistent"))
}

func TestVersion_ZeroBeforeFirstDelete(t *testing.T) {
	cache, _ := setupTestRedis(t)

	version, err := cache.Version(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestSet_SkippedAfterInvalidation(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	version, err := cache.Version(ctx, "user1")
	require.NoError(t, err)

	// the cart is invalidated between the store read and the write-back
	require.NoError(t, cache.Delete(ctx, "user1"))

	stale := &domain.Cart{UserID: "user1", Items: []domain.CartItem{{ProductID: "sku-1", Quantity: 2}}}
	require.NoError(t, cache.Set(ctx, "user1", stale, version))
	assert.False(t, mr.Exists(cacheKey("user1")))

	_, err = cache.Get(ctx, "user1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// a reader that started after the invalidation may fill the cache
	version, err = cache.Version(ctx, "user1")
	require.NoError(t, err)
	fresh := &domain.Cart{UserID: "user1", Items: []domain.CartItem{}}
	require.NoError(t, cache.Set(ctx, "user1", fresh, version))
	assert.True(t, mr.Exists(cacheKey("user1")))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:{test123}", cacheKey("test123"))
	assert.Equal(t, "cart:{test123}:version", versionKey("test123"))
}

func TestNoopCache(t *testing.T) {
	var c CartCache = NoopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u", &domain.Cart{}, 0))
	v, err := c.Version(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, v)
	_, err = c.Get(ctx, "u")
	assert.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, c.Delete(ctx, "u"))
}
