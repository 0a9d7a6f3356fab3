package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBoltCache(t *testing.T) *BoltCache {
	t.Helper()

	c, err := NewBoltCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})

	return c
}

func TestBoltCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := setupBoltCache(t)

	_, hit, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "device:u1:phone", []byte(`{"priority":3}`), time.Minute))

	value, hit, err := c.Get(ctx, "device:u1:phone")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, `{"priority":3}`, string(value))
}

func TestBoltCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := setupBoltCache(t)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	now = now.Add(2 * time.Second)

	_, hit, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestBoltCache_InvalidatePattern(t *testing.T) {
	ctx := context.Background()
	c := setupBoltCache(t)

	keys := []string{"device:u1:phone", "device:u1:laptop", "device:u2:phone", "devices:u1:list"}
	for _, k := range keys {
		require.NoError(t, c.Set(ctx, k, []byte("v"), time.Minute))
	}

	require.NoError(t, c.InvalidatePattern(ctx, "device:u1:*"))

	tests := []struct {
		key     string
		wantHit bool
	}{
		{key: "device:u1:phone", wantHit: false},
		{key: "device:u1:laptop", wantHit: false},
		{key: "device:u2:phone", wantHit: true},
		{key: "devices:u1:list", wantHit: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, hit, err := c.Get(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHit, hit)
		})
	}

	assert.Error(t, c.InvalidatePattern(ctx, "[bad"))
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, Config{Backend: BackendNone})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	c, err = New(ctx, Config{Backend: BackendBolt, BoltPath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &BoltCache{}, c)
	require.NoError(t, c.Close())

	_, err = New(ctx, Config{Backend: "memcached"})
	assert.Error(t, err)
}
