package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/tripsync/internal/config"
	"github.com/iudanet/tripsync/internal/server/handlers"
	"github.com/iudanet/tripsync/pkg/api"
	"github.com/iudanet/tripsync/pkg/client"
)

const testSecret = "test-secret-key"

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	cfg.Storage.Path = ":memory:"
	cfg.Auth.JWTSecret = testSecret
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func setupServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), cfg, logger, "test")
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		assert.NoError(t, s.Close())
	})
	return s, ts
}

func token(t *testing.T, userID string) string {
	t.Helper()

	tok, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
		Secret:         []byte(testSecret),
		AccessTokenTTL: time.Hour,
	}, userID, userID)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, method, url, tok string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set(api.HeaderDeviceID, "phone")
	req.Header.Set(api.HeaderDeviceName, "Pixel")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNew_RequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	assert.Error(t, err)
}

func TestNew_UnknownStrategyType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Strategies = map[string]string{"photo": "MANUAL"}

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	assert.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	_, ts := setupServer(t, testConfig(t))

	resp := do(t, http.MethodGet, ts.URL+HealthPath, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_RequiresAuth(t *testing.T) {
	_, ts := setupServer(t, testConfig(t))

	for _, path := range []string{"/api/v1/sync/incremental", "/api/v1/conflicts", "/api/v1/devices"} {
		resp := do(t, http.MethodGet, ts.URL+path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestServer_BatchThenIncremental(t *testing.T) {
	_, ts := setupServer(t, testConfig(t))
	tok := token(t, "alice")

	batch := api.BatchSyncRequest{
		Operations: []api.Operation{
			{
				ID:           "op-memory",
				Type:         "create",
				EntityType:   "Memory",
				Payload:      json.RawMessage(`{"title":"Sunset","tripId":"$ref:op-trip"}`),
				Dependencies: []string{"op-trip"},
			},
			{
				ID:         "op-trip",
				Type:       "CREATE",
				EntityType: "Trip",
				EntityID:   "trip-1",
				Payload:    json.RawMessage(`{"name":"Lisbon"}`),
			},
		},
	}

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", tok, batch)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[api.BatchSyncResponse](t, resp)
	assert.Empty(t, result.Failed)
	require.Len(t, result.Successful, 2)
	assert.Equal(t, 2, result.ProcessedCount)
	assert.InDelta(t, 1.0, result.SuccessRate, 0.0001)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/sync/incremental", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	delta := decode[api.IncrementalSyncResponse](t, resp)
	require.Len(t, delta.Entities["Trip"], 1)
	require.Len(t, delta.Entities["Memory"], 1)
	assert.Equal(t, "trip-1", delta.Entities["Trip"][0].ID)
	assert.JSONEq(t, `"trip-1"`, string(mustField(t, delta.Entities["Memory"][0].Data, "tripId")))

	// другой пользователь ничего не видит
	resp = do(t, http.MethodGet, ts.URL+"/api/v1/sync/incremental", token(t, "bob"), nil)
	other := decode[api.IncrementalSyncResponse](t, resp)
	assert.Empty(t, other.Entities["Trip"])

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/devices", tok, nil)
	devices := decode[api.DeviceListResponse](t, resp)
	require.Len(t, devices.Devices, 1)
	assert.Equal(t, "phone", devices.Devices[0].DeviceID)
	assert.Equal(t, "Pixel", devices.Devices[0].Name)
}

func TestServer_CyclicBatch(t *testing.T) {
	_, ts := setupServer(t, testConfig(t))

	batch := api.BatchSyncRequest{
		Operations: []api.Operation{
			{ID: "a", Type: "CREATE", EntityType: "Trip", Payload: json.RawMessage(`{"name":"A"}`), Dependencies: []string{"b"}},
			{ID: "b", Type: "CREATE", EntityType: "Trip", Payload: json.RawMessage(`{"name":"B"}`), Dependencies: []string{"a"}},
		},
	}

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", token(t, "alice"), batch)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "CYCLIC_DEPENDENCY", body.Code)
}

func TestServer_ManualConflictRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Strategies = map[string]string{"trip": "manual"}
	_, ts := setupServer(t, cfg)
	tok := token(t, "alice")

	create := api.BatchSyncRequest{Operations: []api.Operation{
		{ID: "c", Type: "CREATE", EntityType: "Trip", EntityID: "trip-1", Payload: json.RawMessage(`{"name":"v1"}`)},
	}}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", tok, create).StatusCode)

	base := int64(1)
	update := func(id, name string) api.BatchSyncRequest {
		return api.BatchSyncRequest{Operations: []api.Operation{
			{ID: id, Type: "UPDATE", EntityType: "Trip", EntityID: "trip-1", BaseVersion: &base, Payload: json.RawMessage(`{"name":"` + name + `"}`)},
		}}
	}

	first := decode[api.BatchSyncResponse](t, do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", tok, update("u1", "v2")))
	require.Len(t, first.Successful, 1)

	second := decode[api.BatchSyncResponse](t, do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", tok, update("u2", "v3")))
	require.Len(t, second.Failed, 1)
	assert.Equal(t, "CONFLICT_REJECTED", second.Failed[0].Code)

	list := decode[api.ConflictListResponse](t, do(t, http.MethodGet, ts.URL+"/api/v1/conflicts?status=pending", tok, nil))
	require.Len(t, list.Conflicts, 1)
	id := list.Conflicts[0].ID

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/conflicts/"+id+"/resolve", tok, api.ResolveConflictRequest{Resolution: "local_wins"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decode[api.ConflictRecord](t, resp)
	assert.Equal(t, "resolved", resolved.Status)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/conflicts/"+id+"/resolve", tok, api.ResolveConflictRequest{Resolution: "local_wins"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_RateLimitOnBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit = 1
	cfg.Server.RateWindow = time.Hour
	_, ts := setupServer(t, cfg)
	tok := token(t, "alice")

	empty := api.BatchSyncRequest{Operations: []api.Operation{}}
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", tok, empty).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", tok, empty).StatusCode)

	// остальные маршруты лимит не затрагивает
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/devices", tok, nil).StatusCode)
}

func TestServer_PruneTombstones(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.TombstoneRetention = time.Nanosecond
	s, ts := setupServer(t, cfg)
	tok := token(t, "alice")

	ops := api.BatchSyncRequest{Operations: []api.Operation{
		{ID: "c", Type: "CREATE", EntityType: "Trip", EntityID: "trip-1", Payload: json.RawMessage(`{"name":"v1"}`)},
		{ID: "d", Type: "DELETE", EntityType: "Trip", EntityID: "trip-1", Dependencies: []string{"c"}},
	}}
	result := decode[api.BatchSyncResponse](t, do(t, http.MethodPost, ts.URL+"/api/v1/sync/batch", tok, ops))
	require.Len(t, result.Successful, 2)

	time.Sleep(time.Millisecond)

	n, err := s.PruneTombstones(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), testConfig(t), logger, "test")
	require.NoError(t, err)
	defer s.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + HealthPath)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ClientDevicePriority(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Strategies = map[string]string{"Trip": "DEVICE_PRIORITY"}
	_, ts := setupServer(t, cfg)
	ctx := context.Background()
	tok := token(t, "alice")

	phone := client.NewClient(ts.URL, tok, client.Device{ID: "phone"})
	laptop := client.NewClient(ts.URL, tok, client.Device{ID: "laptop"})

	_, err := phone.SyncBatch(ctx, api.BatchSyncRequest{Operations: []api.Operation{
		{ID: "c", Type: "CREATE", EntityType: "Trip", EntityID: "trip-1", Payload: json.RawMessage(`{"name":"v1"}`)},
	}})
	require.NoError(t, err)

	// laptop важнее телефона
	priority := 10
	_, err = laptop.UpdateDevice(ctx, "laptop", api.UpdateDeviceRequest{Priority: &priority})
	require.NoError(t, err)

	base := int64(1)
	resp, err := laptop.SyncBatch(ctx, api.BatchSyncRequest{Operations: []api.Operation{
		{ID: "u1", Type: "UPDATE", EntityType: "Trip", EntityID: "trip-1", BaseVersion: &base, Payload: json.RawMessage(`{"name":"laptop"}`)},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Successful, 1)

	resp, err = phone.SyncBatch(ctx, api.BatchSyncRequest{Operations: []api.Operation{
		{ID: "u2", Type: "UPDATE", EntityType: "Trip", EntityID: "trip-1", BaseVersion: &base, Payload: json.RawMessage(`{"name":"phone"}`)},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "CONFLICT_REJECTED", resp.Failed[0].Code)

	conflicts, err := phone.Conflicts(ctx, "resolved")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "DEVICE_PRIORITY", conflicts[0].Strategy)
	require.NotNil(t, conflicts[0].Resolution)
	assert.Equal(t, "local_wins", *conflicts[0].Resolution)

	_, err = phone.SyncBatch(ctx, api.BatchSyncRequest{Operations: []api.Operation{
		{ID: "a", Type: "CREATE", EntityType: "Trip", Payload: json.RawMessage(`{"name":"A"}`), Dependencies: []string{"a"}},
	}})
	assert.True(t, client.IsCode(err, "CYCLIC_DEPENDENCY"))
}

func mustField(t *testing.T, data json.RawMessage, name string) json.RawMessage {
	t.Helper()

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	return fields[name]
}
