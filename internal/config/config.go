// Package config загружает конфигурацию сервера: значения по умолчанию,
// затем YAML-файл, затем переменные окружения TRIPSYNC_*, затем флаги.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iudanet/tripsync/internal/cache"
	"github.com/iudanet/tripsync/internal/engine"
	"github.com/iudanet/tripsync/internal/logger"
	"github.com/iudanet/tripsync/internal/models"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "TRIPSYNC"

// ServerConfig HTTP сервер
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"` // RateLimit пакетов на пользователя за RateWindow, 0 отключает
	RateWindow      time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
}

// StorageConfig хранилище
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // Path путь к файлу SQLite, ":memory:" для тестов
}

// AuthConfig проверка JWT
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"` // TokenTTL срок жизни токенов, выпускаемых командой token
}

// SyncConfig параметры синхронизации
type SyncConfig struct {
	Strategies         map[string]string `mapstructure:"strategies" yaml:"strategies"` // Strategies тип сущности -> стратегия
	ExternalDeps       string            `mapstructure:"external_deps" yaml:"external_deps"`
	MaxBatchSize       int               `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	MaxConcurrency     int               `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MaxInFlight        int               `mapstructure:"max_in_flight" yaml:"max_in_flight"` // MaxInFlight 0 снимает общий предел
	DefaultTimeout     time.Duration     `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxTimeout         time.Duration     `mapstructure:"max_timeout" yaml:"max_timeout"`
	TombstoneRetention time.Duration     `mapstructure:"tombstone_retention" yaml:"tombstone_retention"`
	PruneInterval      time.Duration     `mapstructure:"prune_interval" yaml:"prune_interval"` // PruneInterval 0 отключает фоновую очистку
}

// Config конфигурация сервера
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Cache   cache.Config  `mapstructure:"cache" yaml:"cache"`
	Log     logger.Config `mapstructure:"log" yaml:"log"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
}

// flagKeys сопоставляет флаги командной строки ключам конфигурации
var flagKeys = map[string]string{
	"addr":       "server.addr",
	"db":         "storage.path",
	"jwt-secret": "auth.jwt_secret",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-file":   "log.file",
	"cache":      "cache.backend",
	"retention":  "sync.tombstone_retention",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.rate_window", time.Minute)

	v.SetDefault("storage.path", "tripsync.db")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("cache.backend", cache.BackendNone)
	v.SetDefault("cache.bolt_path", "tripsync-cache.db")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	limits := engine.DefaultLimits()
	v.SetDefault("sync.strategies", map[string]string{})
	v.SetDefault("sync.external_deps", string(limits.ExternalDeps))
	v.SetDefault("sync.max_batch_size", limits.MaxBatchSize)
	v.SetDefault("sync.max_concurrency", limits.MaxConcurrency)
	v.SetDefault("sync.max_in_flight", engine.DefaultMaxInFlight)
	v.SetDefault("sync.default_timeout", limits.DefaultTimeout)
	v.SetDefault("sync.max_timeout", limits.MaxTimeout)
	v.SetDefault("sync.tombstone_retention", 90*24*time.Hour)
	v.SetDefault("sync.prune_interval", time.Hour)
}

// Load reads configuration. configFile may be empty; flags may be nil
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RegisterFlags adds flags understood by Load
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("db", "tripsync.db", "Path to SQLite database")
	flags.String("jwt-secret", "", "Secret for validating JWT access tokens")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("log-file", "", "Also write logs to this file (rotated)")
	flags.String("cache", cache.BackendNone, "Cache backend: none, bolt, redis")
	flags.Duration("retention", 90*24*time.Hour, "How long tombstones are kept")
}

// Validate checks values that cannot be fixed with defaults
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr cannot be empty"))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path cannot be empty"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit cannot be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		errs = append(errs, errors.New("server.rate_window must be positive"))
	}
	if c.Sync.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("sync.max_batch_size must be positive"))
	}
	if c.Sync.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("sync.max_concurrency must be positive"))
	}
	if c.Sync.MaxInFlight < 0 {
		errs = append(errs, errors.New("sync.max_in_flight must not be negative"))
	}
	if !engine.ExternalDependencyPolicy(c.Sync.ExternalDeps).Valid() {
		errs = append(errs, fmt.Errorf("sync.external_deps must be %q or %q", engine.ExternalTrust, engine.ExternalVerify))
	}
	for entityType, strategy := range c.Sync.Strategies {
		if !models.ConflictStrategy(strings.ToUpper(strategy)).Valid() {
			errs = append(errs, fmt.Errorf("sync.strategies.%s: unknown strategy %q", entityType, strategy))
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Limits converts sync settings to executor limits
func (c *Config) Limits() engine.Limits {
	return engine.Limits{
		ExternalDeps:   engine.ExternalDependencyPolicy(c.Sync.ExternalDeps),
		MaxBatchSize:   c.Sync.MaxBatchSize,
		MaxConcurrency: c.Sync.MaxConcurrency,
		DefaultTimeout: c.Sync.DefaultTimeout,
		MaxTimeout:     c.Sync.MaxTimeout,
	}
}

// ConflictStrategies maps configured strategies onto registered entity types.
// Viper lowercases keys, so types are matched case-insensitively.
func (c *Config) ConflictStrategies(types []string) (map[string]models.ConflictStrategy, error) {
	out := make(map[string]models.ConflictStrategy, len(c.Sync.Strategies))

	for key, strategy := range c.Sync.Strategies {
		matched := false
		for _, t := range types {
			if strings.EqualFold(key, t) {
				out[t] = models.ConflictStrategy(strings.ToUpper(strategy))
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("sync.strategies: unknown entity type %q", key)
		}
	}

	return out, nil
}
