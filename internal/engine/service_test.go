package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/tripsync/internal/conflict"
	"github.com/iudanet/tripsync/internal/device"
	"github.com/iudanet/tripsync/internal/entity"
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage/sqlite"
	"github.com/iudanet/tripsync/internal/validation"
)

type testEnv struct {
	store    *sqlite.Storage
	service  *Service
	resolver *conflict.Resolver
}

func setupService(t *testing.T, strategies map[string]models.ConflictStrategy) *testEnv {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := setupTestLogger()
	devices := device.NewRegistry(store, nil, logger)
	resolver := conflict.NewResolver(store, devices, strategies, logger)
	applier := NewStoreApplier(store, entity.DefaultRegistry(), resolver, logger)
	executor := NewExecutor(applier, store, logger)

	return &testEnv{
		store:    store,
		service:  NewService(executor, devices, DefaultLimits(), logger),
		resolver: resolver,
	}
}

func batch(deviceID string, ops ...*models.SyncOperation) *BatchRequest {
	return &BatchRequest{
		OwnerID:    "owner1",
		Device:     device.Info{DeviceID: deviceID, Name: deviceID},
		Operations: ops,
	}
}

func createTrip(id, entityID, name string, deps ...string) *models.SyncOperation {
	return &models.SyncOperation{
		ID:           id,
		Kind:         models.OperationCreate,
		EntityType:   models.EntityTypeTrip,
		EntityID:     entityID,
		Payload:      json.RawMessage(`{"name":"` + name + `"}`),
		Dependencies: deps,
	}
}

func createMemory(id, tripRef string, deps ...string) *models.SyncOperation {
	return &models.SyncOperation{
		ID:           id,
		Kind:         models.OperationCreate,
		EntityType:   models.EntityTypeMemory,
		Payload:      json.RawMessage(`{"title":"Peak","tripId":"` + tripRef + `"}`),
		Dependencies: deps,
	}
}

func TestService_TripThenMemoryInEitherOrder(t *testing.T) {
	orders := map[string]func(trip, memory *models.SyncOperation) []*models.SyncOperation{
		"trip first":   func(trip, memory *models.SyncOperation) []*models.SyncOperation { return []*models.SyncOperation{trip, memory} },
		"memory first": func(trip, memory *models.SyncOperation) []*models.SyncOperation { return []*models.SyncOperation{memory, trip} },
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			env := setupService(t, nil)

			trip := createTrip("op1", "", "Alps")
			memory := createMemory("op2", "$ref:op1", "op1")

			result, err := env.service.SyncBatch(context.Background(), batch("phone", order(trip, memory)...))
			require.NoError(t, err)
			assert.Equal(t, 2, result.Succeeded)
			assert.Equal(t, []string{"op1", "op2"}, resultIDs(result))

			byID := resultsByID(result)
			tripID := byID["op1"].Entity.ID

			fields, err := validation.DecodeObject(byID["op2"].Entity.Data)
			require.NoError(t, err)
			assert.Equal(t, tripID, fields["tripId"])
		})
	}
}

func TestService_ImplicitReferenceDependency(t *testing.T) {
	env := setupService(t, nil)

	// Зависимость не объявлена, но ссылка $ref ее подразумевает
	result, err := env.service.SyncBatch(context.Background(),
		batch("phone", createMemory("m", "$ref:t"), createTrip("t", "", "Alps")))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
}

func TestService_CycleAppliesNothing(t *testing.T) {
	env := setupService(t, nil)

	result, err := env.service.SyncBatch(context.Background(), batch("phone",
		createTrip("free", "trip-free", "Free"),
		createTrip("a", "trip-a", "A", "b"),
		createTrip("b", "trip-b", "B", "a"),
	))
	assert.Nil(t, result)
	require.ErrorIs(t, err, ErrCyclicDependency)

	changes, err := env.store.ReadChanges(context.Background(), "owner1", nil)
	require.NoError(t, err)
	assert.Empty(t, changes.Entities)
}

func TestService_DeleteMissing(t *testing.T) {
	env := setupService(t, nil)

	result, err := env.service.SyncBatch(context.Background(), batch("phone", &models.SyncOperation{
		ID:         "del",
		Kind:       models.OperationDelete,
		EntityType: models.EntityTypeTrip,
		EntityID:   "nope",
	}))
	require.NoError(t, err)
	assert.ErrorIs(t, result.Results[0].Err, ErrNotFound)
}

func TestService_MemoryWithoutTripFails(t *testing.T) {
	env := setupService(t, nil)

	result, err := env.service.SyncBatch(context.Background(), batch("phone", createMemory("m", "missing-trip")))
	require.NoError(t, err)
	assert.ErrorIs(t, result.Results[0].Err, ErrValidation)
}

func TestService_UnknownEntityType(t *testing.T) {
	env := setupService(t, nil)

	result, err := env.service.SyncBatch(context.Background(), batch("phone", &models.SyncOperation{
		ID:         "x",
		Kind:       models.OperationCreate,
		EntityType: "Spaceship",
		Payload:    json.RawMessage(`{}`),
	}))
	require.NoError(t, err)
	assert.ErrorIs(t, result.Results[0].Err, ErrValidation)
}

func updateTrip(id, entityID, name string, base int64, ts time.Time) *models.SyncOperation {
	return &models.SyncOperation{
		ID:              id,
		Kind:            models.OperationUpdate,
		EntityType:      models.EntityTypeTrip,
		EntityID:        entityID,
		BaseVersion:     &base,
		ClientTimestamp: ts,
		Payload:         json.RawMessage(`{"name":"` + name + `"}`),
	}
}

func TestService_LastWriteWinsConflict(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	env := setupService(t, nil)
	_, err := env.service.SyncBatch(ctx, batch("phone", createTrip("c", "trip-1", "Alps")))
	require.NoError(t, err)

	// Оба устройства видели версию 1
	result, err := env.service.SyncBatch(ctx, batch("laptop", updateTrip("u1", "trip-1", "Laptop", 1, t2)))
	require.NoError(t, err)
	require.True(t, result.Results[0].Succeeded())

	result, err = env.service.SyncBatch(ctx, batch("phone", updateTrip("u2", "trip-1", "Phone", 1, t1)))
	require.NoError(t, err)
	assert.ErrorIs(t, result.Results[0].Err, ErrConflictRejected)

	stored, err := env.store.FindEntity(ctx, "owner1", models.EntityTypeTrip, "trip-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"trip-1","name":"Laptop"}`, string(stored.Data))
	assert.Equal(t, int64(2), stored.Version)

	records, err := env.resolver.List(ctx, "owner1", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Resolution)
	assert.Equal(t, models.ResolutionLocalWins, *records[0].Resolution)
}

func TestService_ConflictAcceptedWhenIncomingNewer(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	env := setupService(t, nil)
	_, err := env.service.SyncBatch(ctx, batch("phone", createTrip("c", "trip-1", "Alps")))
	require.NoError(t, err)

	_, err = env.service.SyncBatch(ctx, batch("phone", updateTrip("u1", "trip-1", "Phone", 1, t1)))
	require.NoError(t, err)

	result, err := env.service.SyncBatch(ctx, batch("laptop", updateTrip("u2", "trip-1", "Laptop", 1, t2)))
	require.NoError(t, err)
	require.True(t, result.Results[0].Succeeded())
	assert.Equal(t, int64(3), result.Results[0].Entity.Version)

	records, err := env.resolver.List(ctx, "owner1", models.ConflictResolved)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ResolutionRemoteWins, *records[0].Resolution)
}

func TestService_OutOfRangeClientTimestampRejected(t *testing.T) {
	ctx := context.Background()
	env := setupService(t, nil)

	_, err := env.service.SyncBatch(ctx, batch("phone", createTrip("c", "trip-1", "Alps")))
	require.NoError(t, err)

	// 2300 не помещается в int64 наносекунды и исказил бы last-write-wins
	skewed := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := env.service.SyncBatch(ctx, batch("laptop", updateTrip("u1", "trip-1", "Laptop", 1, skewed)))
	require.NoError(t, err)
	assert.ErrorIs(t, result.Results[0].Err, ErrValidation)

	stored, err := env.store.FindEntity(ctx, "owner1", models.EntityTypeTrip, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	records, err := env.resolver.List(ctx, "owner1", "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestService_ManualStrategyKeepsStored(t *testing.T) {
	ctx := context.Background()
	env := setupService(t, map[string]models.ConflictStrategy{
		models.EntityTypeTrip: models.StrategyManual,
	})

	_, err := env.service.SyncBatch(ctx, batch("phone", createTrip("c", "trip-1", "Alps")))
	require.NoError(t, err)
	_, err = env.service.SyncBatch(ctx, batch("phone", updateTrip("u1", "trip-1", "First", 1, time.Now())))
	require.NoError(t, err)

	result, err := env.service.SyncBatch(ctx, batch("laptop", updateTrip("u2", "trip-1", "Second", 1, time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.ErrorIs(t, result.Results[0].Err, ErrConflictRejected)

	pending, err := env.resolver.List(ctx, "owner1", models.ConflictPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestService_BatchLimits(t *testing.T) {
	env := setupService(t, nil)
	ctx := context.Background()

	_, err := env.service.SyncBatch(ctx, &BatchRequest{OwnerID: "owner1", Device: device.Info{}})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = env.service.SyncBatch(ctx, batch("phone", createTrip("a", "", "A"), createTrip("a", "", "B")))
	assert.ErrorIs(t, err, validation.ErrInvalid)

	req := batch("phone", createTrip("a", "", "A"))
	req.Options.MaxConcurrency = -1
	_, err = env.service.SyncBatch(ctx, req)
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestService_Options(t *testing.T) {
	s := NewService(nil, nil, Limits{MaxConcurrency: 8, MaxTimeout: time.Minute}, setupTestLogger())

	opts, err := s.options(RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 8, opts.Concurrency)
	assert.Equal(t, DefaultTimeout, opts.Timeout)
	assert.Equal(t, ExternalTrust, opts.ExternalDeps)

	opts, err = s.options(RequestOptions{MaxConcurrency: 50, BatchSize: 4, Timeout: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 4, opts.Concurrency)
	assert.Equal(t, time.Minute, opts.Timeout)
}
