// Package cache содержит необязательный слой кеширования.
// Корректность никогда не зависит от кеша: любой промах или ошибка
// приводят к чтению из хранилища.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Cache контракт кеша: get/set/invalidate-by-pattern
type Cache interface {
	// Get возвращает значение и признак попадания
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set сохраняет значение с TTL (ttl <= 0 - без истечения)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// InvalidatePattern удаляет все ключи, подходящие под glob-шаблон (path.Match синтаксис)
	InvalidatePattern(ctx context.Context, pattern string) error

	// Close освобождает ресурсы backend'а
	Close() error
}

// Backend names accepted by New
const (
	BackendNone  = "none"
	BackendBolt  = "bolt"
	BackendRedis = "redis"
)

// Config параметры выбора backend'а
type Config struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	BoltPath      string        `mapstructure:"bolt_path" yaml:"bolt_path"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"` // TTL записей реестра устройств
}

// New создает кеш по конфигурации. Вызывающий отвечает за Close
func New(ctx context.Context, cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return Noop{}, nil
	case BackendBolt:
		return NewBoltCache(cfg.BoltPath)
	case BackendRedis:
		return NewRedisCache(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// GetOrLoad реализует cache-aside: читает ключ из кеша, при промахе вызывает
// loader и сохраняет результат с ttl. Ошибки кеша логируются и не прерывают загрузку.
func GetOrLoad[T any](
	ctx context.Context,
	c Cache,
	logger *slog.Logger,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	if raw, hit, err := c.Get(ctx, key); err != nil {
		logger.Warn("cache get failed", "key", key, "error", err)
	} else if hit {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		logger.Warn("cache entry is corrupted", "key", key)
	}

	value, err := loader(ctx)
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		logger.Warn("failed to encode cache entry", "key", key, "error", err)
		return value, nil
	}

	if err := c.Set(ctx, key, raw, ttl); err != nil {
		logger.Warn("cache set failed", "key", key, "error", err)
	}

	return value, nil
}

// Noop кеш, который ничего не хранит
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) InvalidatePattern(context.Context, string) error { return nil }
func (Noop) Close() error { return nil }
