// Package device отслеживает метаданные клиентских устройств.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/tripsync/internal/cache"
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
)

// DefaultCacheTTL время жизни записи устройства в кеше
const DefaultCacheTTL = 5 * time.Minute

// Info данные, которые устройство сообщает о себе при синхронизации
type Info struct {
	Priority *int // Priority nil - оставить сохраненный приоритет
	DeviceID string
	Name     string
	Type     string
}

// Registry хранит DeviceRecord и отдает их резолверу конфликтов
type Registry struct {
	store    storage.DeviceStore
	cache    cache.Cache
	logger   *slog.Logger
	now      func() time.Time
	cacheTTL time.Duration
}

// Option настраивает Registry
type Option func(*Registry)

// WithCacheTTL задает время жизни записей в кеше
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// NewRegistry creates a new device registry
func NewRegistry(store storage.DeviceStore, c cache.Cache, logger *slog.Logger, opts ...Option) *Registry {
	if c == nil {
		c = cache.Noop{}
	}
	r := &Registry{
		store:    store,
		cache:    c,
		logger:   logger,
		now:      time.Now,
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Touch обновляет last-seen (и переданные атрибуты) устройства при каждом обращении
func (r *Registry) Touch(ctx context.Context, userID string, info Info) error {
	if info.DeviceID == "" {
		return fmt.Errorf("device id is empty")
	}

	record := &models.DeviceRecord{
		UserID:   userID,
		DeviceID: info.DeviceID,
		Name:     info.Name,
		Type:     info.Type,
		LastSeen: r.now().UTC(),
	}

	if err := r.store.UpsertDevice(ctx, record, info.Priority); err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}

	// Запись и список устройств пользователя устарели
	if err := r.cache.InvalidatePattern(ctx, devicePattern(userID, info.DeviceID)); err != nil {
		r.logger.Warn("failed to invalidate device cache", "user_id", userID, "device_id", info.DeviceID, "error", err)
	}
	if err := r.cache.InvalidatePattern(ctx, escapeGlob(listKey(userID))); err != nil {
		r.logger.Warn("failed to invalidate device list cache", "user_id", userID, "error", err)
	}

	return nil
}

// Get point lookup by (userID, deviceID)
// Returns storage.ErrDeviceNotFound if device was never seen
func (r *Registry) Get(ctx context.Context, userID, deviceID string) (*models.DeviceRecord, error) {
	return cache.GetOrLoad(ctx, r.cache, r.logger, deviceKey(userID, deviceID), r.cacheTTL,
		func(ctx context.Context) (*models.DeviceRecord, error) {
			return r.store.GetDevice(ctx, userID, deviceID)
		})
}

// Priority returns device priority, unknown devices have priority 0
func (r *Registry) Priority(ctx context.Context, userID, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, nil
	}

	record, err := r.Get(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return 0, nil
		}
		return 0, err
	}

	return record.Priority, nil
}

// List returns all devices of the user
func (r *Registry) List(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	return cache.GetOrLoad(ctx, r.cache, r.logger, listKey(userID), r.cacheTTL,
		func(ctx context.Context) ([]*models.DeviceRecord, error) {
			return r.store.ListDevices(ctx, userID)
		})
}

// userSegment user id из JWT произволен: в ключ идет его UUIDv5,
// без glob-символов и без склеек вида "a:b" + "c" == "a" + "b:c"
func userSegment(userID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID)).String()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob экранирует ключ для InvalidatePattern (path.Match и Redis SCAN MATCH)
func escapeGlob(key string) string {
	return globEscaper.Replace(key)
}

func deviceKey(userID, deviceID string) string {
	return "device:" + userSegment(userID) + ":" + deviceID
}

// devicePattern совпадает с ключом устройства и любыми производными ключами
func devicePattern(userID, deviceID string) string {
	return escapeGlob(deviceKey(userID, deviceID)) + "*"
}

func listKey(userID string) string {
	return "devices:" + userSegment(userID) + ":list"
}
