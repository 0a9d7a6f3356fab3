package device

import (
	"context"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/tripsync/internal/cache"
	"github.com/iudanet/tripsync/internal/server/storage"
	"github.com/iudanet/tripsync/internal/server/storage/sqlite"
)

func setupRegistry(t *testing.T) (*Registry, *sqlite.Storage) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)

	c, err := cache.NewBoltCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		_ = store.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(store, c, logger), store
}

func intPtr(v int) *int {
	return &v
}

func TestRegistry_TouchAndGet(t *testing.T) {
	ctx := context.Background()
	registry, _ := setupRegistry(t)

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return now }

	err := registry.Touch(ctx, "user1", Info{DeviceID: "phone", Name: "Pixel", Type: "android", Priority: intPtr(3)})
	require.NoError(t, err)

	record, err := registry.Get(ctx, "user1", "phone")
	require.NoError(t, err)
	assert.Equal(t, "Pixel", record.Name)
	assert.Equal(t, 3, record.Priority)
	assert.True(t, record.LastSeen.Equal(now))
}

func TestRegistry_TouchInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	registry, _ := setupRegistry(t)

	require.NoError(t, registry.Touch(ctx, "user1", Info{DeviceID: "phone", Priority: intPtr(1)}))

	prio, err := registry.Priority(ctx, "user1", "phone")
	require.NoError(t, err)
	assert.Equal(t, 1, prio)

	devices, err := registry.List(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	// Значение закешировано, Touch обязан его сбросить
	require.NoError(t, registry.Touch(ctx, "user1", Info{DeviceID: "phone", Priority: intPtr(9)}))
	require.NoError(t, registry.Touch(ctx, "user1", Info{DeviceID: "laptop"}))

	prio, err = registry.Priority(ctx, "user1", "phone")
	require.NoError(t, err)
	assert.Equal(t, 9, prio)

	devices, err = registry.List(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestRegistry_UnknownDevice(t *testing.T) {
	ctx := context.Background()
	registry, _ := setupRegistry(t)

	_, err := registry.Get(ctx, "user1", "ghost")
	assert.ErrorIs(t, err, storage.ErrDeviceNotFound)

	prio, err := registry.Priority(ctx, "user1", "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, prio)

	prio, err = registry.Priority(ctx, "user1", "")
	require.NoError(t, err)
	assert.Equal(t, 0, prio)
}

func TestRegistry_TouchRequiresDeviceID(t *testing.T) {
	registry, _ := setupRegistry(t)
	assert.Error(t, registry.Touch(context.Background(), "user1", Info{}))
}

func TestRegistry_NilCache(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	registry := NewRegistry(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, registry.Touch(ctx, "u", Info{DeviceID: "d", Priority: intPtr(2)}))

	prio, err := registry.Priority(ctx, "u", "d")
	require.NoError(t, err)
	assert.Equal(t, 2, prio)
}

// ttlCache запоминает TTL последней записи
type ttlCache struct {
	cache.Noop
	lastTTL time.Duration
}

func (c *ttlCache) Set(_ context.Context, _ string, _ []byte, ttl time.Duration) error {
	c.lastTTL = ttl
	return nil
}

func TestRegistry_WithCacheTTL(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	c := &ttlCache{}
	registry := NewRegistry(store, c, logger, WithCacheTTL(time.Minute))
	require.NoError(t, registry.Touch(ctx, "user1", Info{DeviceID: "phone"}))

	_, err = registry.Get(ctx, "user1", "phone")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.lastTTL)

	// нулевой TTL оставляет значение по умолчанию
	registry = NewRegistry(store, c, logger, WithCacheTTL(0))
	_, err = registry.Get(ctx, "user1", "phone")
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheTTL, c.lastTTL)
}

func TestRegistry_GlobCharactersInUserID(t *testing.T) {
	ctx := context.Background()
	registry, _ := setupRegistry(t)

	users := []string{"user[1", "user*", "user?"}
	for _, user := range users {
		require.NoError(t, registry.Touch(ctx, user, Info{DeviceID: "phone", Priority: intPtr(1)}))
		prio, err := registry.Priority(ctx, user, "phone")
		require.NoError(t, err)
		require.Equal(t, 1, prio)
		_, err = registry.List(ctx, user)
		require.NoError(t, err)
	}

	// Каждая смена приоритета видна сразу: закешированная запись сброшена
	for i, user := range users {
		require.NoError(t, registry.Touch(ctx, user, Info{DeviceID: "phone", Priority: intPtr(10 + i)}))

		prio, err := registry.Priority(ctx, user, "phone")
		require.NoError(t, err)
		assert.Equal(t, 10+i, prio, user)

		devices, err := registry.List(ctx, user)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, 10+i, devices[0].Priority, user)
	}
}

func TestCacheKeys(t *testing.T) {
	// Склейка "a:b" + "c" не должна совпасть с "a" + "b:c"
	assert.NotEqual(t, deviceKey("a:b", "c"), deviceKey("a", "b:c"))
	assert.NotContains(t, deviceKey("user*", "phone"), "*")

	ok, err := path.Match(devicePattern("u", "dev[1]"), deviceKey("u", "dev[1]")+":extra")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = path.Match(devicePattern("u", "dev*"), deviceKey("u", "device"))
	require.NoError(t, err)
	assert.False(t, ok)
}
