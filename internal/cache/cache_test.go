package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValue struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// failingCache всегда возвращает ошибку
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) InvalidatePattern(context.Context, string) error {
	return errors.New("cache down")
}

func (failingCache) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetOrLoad_CachesLoadedValue(t *testing.T) {
	ctx := context.Background()
	c := setupBoltCache(t)

	calls := 0
	loader := func(context.Context) (testValue, error) {
		calls++
		return testValue{Name: "phone", Priority: 2}, nil
	}

	first, err := GetOrLoad(ctx, c, discardLogger(), "k", time.Minute, loader)
	require.NoError(t, err)
	second, err := GetOrLoad(ctx, c, discardLogger(), "k", time.Minute, loader)
	require.NoError(t, err)

	assert.Equal(t, testValue{Name: "phone", Priority: 2}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	// После инвалидации снова идем в loader
	require.NoError(t, c.InvalidatePattern(ctx, "k"))
	_, err = GetOrLoad(ctx, c, discardLogger(), "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetOrLoad_LoaderErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := setupBoltCache(t)
	loadErr := errors.New("db down")

	_, err := GetOrLoad(ctx, c, discardLogger(), "k", time.Minute, func(context.Context) (testValue, error) {
		return testValue{}, loadErr
	})
	assert.ErrorIs(t, err, loadErr)

	_, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetOrLoad_CacheFailureFallsBackToLoader(t *testing.T) {
	ctx := context.Background()

	value, err := GetOrLoad(ctx, failingCache{}, discardLogger(), "k", time.Minute, func(context.Context) (testValue, error) {
		return testValue{Name: "from-db"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-db", value.Name)
}

func TestGetOrLoad_NoopAlwaysLoads(t *testing.T) {
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		_, err := GetOrLoad(ctx, Noop{}, discardLogger(), "k", time.Minute, func(context.Context) (int, error) {
			calls++
			return calls, nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, calls)
}

func TestWithJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), withJitter(0))

	ttl := withJitter(time.Minute)
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+Jitter)
}
