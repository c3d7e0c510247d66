// Package cache 嵌入向量缓存
// 值是不透明的字节串，由调用方负责编码
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnsupportedType 未注册的缓存类型
var ErrUnsupportedType = errors.New("unsupported cache type")

// Cache 字节缓存，未命中返回found=false而不是错误
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear 清空本缓存实例写入的键
	Clear(ctx context.Context) error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 按Type创建缓存，Type为空时使用内存缓存
func NewCache(config Config) (Cache, error) {
	if config.Type == "" {
		config.Type = "memory"
	}
	factory, ok := registry[config.Type]
	if !ok {
		names := make([]string, 0, len(registry))
		for name := range registry {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnsupportedType, config.Type, names)
	}
	return factory(config)
}

// Config 缓存配置
type Config struct {
	Type string // memory 或 redis

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string // 键前缀，Clear只清理带该前缀的键 (仅Redis)

	DefaultTTL      time.Duration // Set传入0时使用
	CleanupInterval time.Duration // 过期键清理间隔 (仅内存)
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		Prefix:          "langdata",
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// GenerateCacheKey 用冒号连接前缀和各部分
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}
