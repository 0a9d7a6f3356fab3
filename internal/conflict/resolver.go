// Package conflict обнаруживает конфликтующие параллельные изменения одной
// сущности и разрешает их по стратегии, заданной для типа сущности.
// Каждый обнаруженный конфликт попадает в журнал аудита, даже если он
// разрешен автоматически.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
)

// ErrRejected входящая запись отброшена политикой разрешения конфликтов
var ErrRejected = errors.New("write rejected by conflict resolution")

// PriorityLookup возвращает приоритет устройства (0 для неизвестных)
type PriorityLookup interface {
	Priority(ctx context.Context, userID, deviceID string) (int, error)
}

// Decision итог разрешения конфликта
type Decision struct {
	Record *models.ConflictRecord
	Accept bool // Accept true - входящую запись нужно применить
}

// Resolver разрешает конфликты и ведет журнал ConflictRecord
type Resolver struct {
	store      storage.ConflictStore
	devices    PriorityLookup
	logger     *slog.Logger
	strategies map[string]models.ConflictStrategy
	now        func() time.Time
	fallback   models.ConflictStrategy
}

// NewResolver creates a resolver. strategies maps entity type to strategy,
// types without an entry use LAST_WRITE_WINS
func NewResolver(
	store storage.ConflictStore,
	devices PriorityLookup,
	strategies map[string]models.ConflictStrategy,
	logger *slog.Logger,
) *Resolver {
	copied := make(map[string]models.ConflictStrategy, len(strategies))
	for entityType, strategy := range strategies {
		copied[entityType] = strategy
	}

	return &Resolver{
		store:      store,
		devices:    devices,
		logger:     logger,
		strategies: copied,
		now:        time.Now,
		fallback:   models.StrategyLastWriteWins,
	}
}

// Detect reports whether the stored version is strictly newer than the one
// the client observed. Operations without a base version are blind writes.
func Detect(stored *models.Entity, op *models.SyncOperation) bool {
	if op.BaseVersion == nil {
		return false
	}
	return stored.Version > *op.BaseVersion
}

// Check returns nil when op does not conflict with stored, otherwise resolves it
func (r *Resolver) Check(ctx context.Context, stored *models.Entity, op *models.SyncOperation) *Decision {
	if !Detect(stored, op) {
		return nil
	}
	return r.Resolve(ctx, stored, op)
}

// StrategyFor returns the strategy configured for an entity type
func (r *Resolver) StrategyFor(entityType string) models.ConflictStrategy {
	if strategy, ok := r.strategies[entityType]; ok {
		return strategy
	}
	return r.fallback
}

// Resolve decides which side of a detected conflict wins and persists the
// ConflictRecord. The audit write is best effort: its failure is logged and
// does not change the decision.
func (r *Resolver) Resolve(ctx context.Context, stored *models.Entity, op *models.SyncOperation) *Decision {
	strategy := r.StrategyFor(op.EntityType)
	detectedAt := r.now().UTC()

	record := &models.ConflictRecord{
		ID:            uuid.New().String(),
		EntityType:    op.EntityType,
		EntityID:      stored.ID,
		OwnerID:       op.OwnerID,
		DeviceID:      op.DeviceID,
		Strategy:      strategy,
		Status:        models.ConflictPending,
		LocalVersion:  stored.Snapshot(),
		RemoteVersion: remoteSnapshot(op),
		DetectedAt:    detectedAt,
	}

	accept := false
	switch strategy {
	case models.StrategyManual:
		// Входящая запись отбрасывается, конфликт ждет ручного решения
	case models.StrategyDevicePriority:
		accept = r.devicePriorityWins(ctx, stored, op)
	default:
		accept = lastWriteWins(stored, op)
	}

	if strategy != models.StrategyManual {
		resolution := models.ResolutionLocalWins
		if accept {
			resolution = models.ResolutionRemoteWins
		}
		record.Resolution = &resolution
		record.Status = models.ConflictResolved
		record.ResolvedAt = &detectedAt
	}

	// Журнал пишется вне транзакции операции
	if err := r.store.SaveConflict(context.WithoutCancel(ctx), record); err != nil {
		r.logger.Error("Failed to save conflict record",
			"error", err,
			"entity_type", record.EntityType,
			"entity_id", record.EntityID,
			"operation_id", op.ID)
	}

	var baseVersion int64
	if op.BaseVersion != nil {
		baseVersion = *op.BaseVersion
	}

	r.logger.Info("Conflict detected",
		"entity_type", record.EntityType,
		"entity_id", record.EntityID,
		"device_id", op.DeviceID,
		"strategy", strategy,
		"stored_version", stored.Version,
		"base_version", baseVersion,
		"accepted", accept)

	return &Decision{Record: record, Accept: accept}
}

// lastWriteWins: побеждает более поздний клиентский timestamp,
// при равенстве - лексикографически больший device id (детерминированно)
func lastWriteWins(stored *models.Entity, op *models.SyncOperation) bool {
	if op.ClientTimestamp.After(stored.ClientTimestamp) {
		return true
	}
	if op.ClientTimestamp.Before(stored.ClientTimestamp) {
		return false
	}
	return op.DeviceID > stored.DeviceID
}

// devicePriorityWins: побеждает устройство с большим приоритетом,
// при равенстве (или ошибке поиска) решает lastWriteWins
func (r *Resolver) devicePriorityWins(ctx context.Context, stored *models.Entity, op *models.SyncOperation) bool {
	incoming, err := r.devices.Priority(ctx, op.OwnerID, op.DeviceID)
	if err != nil {
		r.logger.Warn("Device priority lookup failed, falling back to timestamps", "device_id", op.DeviceID, "error", err)
		return lastWriteWins(stored, op)
	}

	current, err := r.devices.Priority(ctx, op.OwnerID, stored.DeviceID)
	if err != nil {
		r.logger.Warn("Device priority lookup failed, falling back to timestamps", "device_id", stored.DeviceID, "error", err)
		return lastWriteWins(stored, op)
	}

	if incoming != current {
		return incoming > current
	}
	return lastWriteWins(stored, op)
}

// List returns owner's conflict records filtered by status (empty = all)
func (r *Resolver) List(ctx context.Context, ownerID string, status models.ConflictStatus) ([]*models.ConflictRecord, error) {
	return r.store.ListConflicts(ctx, ownerID, status)
}

// ResolveManually attaches an out-of-band resolution to a pending conflict
func (r *Resolver) ResolveManually(ctx context.Context, ownerID, id, resolution string) (*models.ConflictRecord, error) {
	if resolution == "" {
		return nil, fmt.Errorf("resolution cannot be empty")
	}

	if err := r.store.ResolveConflict(ctx, ownerID, id, resolution, r.now().UTC()); err != nil {
		return nil, err
	}

	return r.store.GetConflict(ctx, ownerID, id)
}

// remoteSnapshot сериализует входящую операцию для журнала
func remoteSnapshot(op *models.SyncOperation) json.RawMessage {
	snapshot := struct {
		ClientTimestamp time.Time            `json:"client_timestamp"`
		BaseVersion     *int64               `json:"base_version"`
		OperationID     string               `json:"operation_id"`
		Kind            models.OperationKind `json:"kind"`
		EntityID        string               `json:"entity_id"`
		DeviceID        string               `json:"device_id"`
		Payload         json.RawMessage      `json:"payload,omitempty"`
	}{
		ClientTimestamp: op.ClientTimestamp,
		BaseVersion:     op.BaseVersion,
		OperationID:     op.ID,
		Kind:            op.Kind,
		EntityID:        op.EntityID,
		DeviceID:        op.DeviceID,
		Payload:         op.Payload,
	}

	b, err := json.Marshal(snapshot)
	if err != nil {
		return nil
	}
	return b
}
