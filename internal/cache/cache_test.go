package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryCache 测试内存缓存的基本功能
func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(Config{
		Type:            "memory",
		DefaultTTL:      time.Second * 2,
		CleanupInterval: time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "key1", []byte("value1"), 0))

	val, found, err := cache.Get(ctx, "key1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value1"), val)

	// 返回值是副本
	val[0] = 'X'
	val, _, _ = cache.Get(ctx, "key1")
	assert.Equal(t, []byte("value1"), val)

	val, found, err = cache.Get(ctx, "non-existent")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	require.NoError(t, cache.Set(ctx, "expire-soon", []byte("temp"), time.Millisecond*100))
	time.Sleep(time.Millisecond * 300)
	_, found, err = cache.Get(ctx, "expire-soon")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "to-delete", []byte("x"), 0))
	require.NoError(t, cache.Delete(ctx, "to-delete"))
	_, found, _ = cache.Get(ctx, "to-delete")
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "key2", []byte("value2"), 0))
	require.NoError(t, cache.Clear(ctx))
	_, found, _ = cache.Get(ctx, "key2")
	assert.False(t, found)
}

// TestRedisCache 使用miniredis测试Redis缓存
func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(Config{
		Type:       "redis",
		RedisAddr:  mr.Addr(),
		Prefix:     "test",
		DefaultTTL: time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "k1", []byte("v1"), 0))
	assert.True(t, mr.Exists("test:k1"))

	val, found, err := cache.Get(ctx, "k1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), val)

	_, found, err = cache.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "short", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)
	_, found, _ = cache.Get(ctx, "short")
	assert.False(t, found)

	require.NoError(t, cache.Delete(ctx, "k1"))
	_, found, _ = cache.Get(ctx, "k1")
	assert.False(t, found)

	// Clear只删除带前缀的键
	require.NoError(t, mr.Set("other", "keep"))
	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, cache.Clear(ctx))
	assert.False(t, mr.Exists("test:a"))
	assert.False(t, mr.Exists("test:b"))
	assert.True(t, mr.Exists("other"))
}

// TestRedisCacheUnavailable 连接失败时返回错误
func TestRedisCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(Config{Type: "redis", RedisAddr: addr})
	assert.Error(t, err)
}

// TestCacheFactory 测试缓存工厂函数
func TestCacheFactory(t *testing.T) {
	memCache, err := NewCache(DefaultConfig())
	assert.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, memCache)

	mr := miniredis.RunT(t)
	redisCache, err := NewCache(Config{Type: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, redisCache)

	emptyCache, err := NewCache(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, emptyCache)

	_, err = NewCache(Config{Type: "unknown-type"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

// TestGenerateCacheKey 测试缓存键生成
func TestGenerateCacheKey(t *testing.T) {
	assert.Equal(t, "prefix", GenerateCacheKey("prefix"))
	assert.Equal(t, "prefix:part1", GenerateCacheKey("prefix", "part1"))
	assert.Equal(t, "prefix:part1:part2:part3", GenerateCacheKey("prefix", "part1", "part2", "part3"))
}
