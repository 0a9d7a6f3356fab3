package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iudanet/tripsync/internal/conflict"
	"github.com/iudanet/tripsync/internal/entity"
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
	"github.com/iudanet/tripsync/internal/validation"
)

//go:generate moq -out applier_mock.go . Applier

// Applier validates and applies a single operation
type Applier interface {
	// Validate checks entity-specific fields, skipped when the batch asks for it
	Validate(op *models.SyncOperation) error

	// Apply persists op in its own transaction and returns the resulting entity
	// (nil for DELETE)
	Apply(ctx context.Context, op *models.SyncOperation) (*models.Entity, error)
}

// DefaultMaxAttempts сколько раз applier перепроверяет конфликт,
// если версия сущности сдвинулась между чтением и записью
const DefaultMaxAttempts = 3

// StoreApplier applies operations to an EntityStore through entity handlers
type StoreApplier struct {
	store       storage.EntityStore
	handlers    *entity.Registry
	resolver    *conflict.Resolver
	logger      *slog.Logger
	maxAttempts int
}

// NewStoreApplier creates applier backed by store
func NewStoreApplier(
	store storage.EntityStore,
	handlers *entity.Registry,
	resolver *conflict.Resolver,
	logger *slog.Logger,
) *StoreApplier {
	return &StoreApplier{
		store:       store,
		handlers:    handlers,
		resolver:    resolver,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
	}
}

func (a *StoreApplier) handler(op *models.SyncOperation) (entity.Handler, error) {
	h, ok := a.handlers.Get(op.EntityType)
	if !ok {
		return nil, validation.Errorf("unknown entity type %q", op.EntityType)
	}
	return h, nil
}

// Validate runs entity-specific validation
func (a *StoreApplier) Validate(op *models.SyncOperation) error {
	h, err := a.handler(op)
	if err != nil {
		return err
	}
	return h.Validate(op)
}

// Apply persists op. Structural checks always run, even when entity validation is skipped
func (a *StoreApplier) Apply(ctx context.Context, op *models.SyncOperation) (*models.Entity, error) {
	if err := validation.ValidateOperation(op); err != nil {
		return nil, err
	}

	h, err := a.handler(op)
	if err != nil {
		return nil, err
	}

	switch op.Kind {
	case models.OperationCreate:
		return a.create(ctx, h, op)
	case models.OperationUpdate, models.OperationDelete:
		return a.modify(ctx, h, op)
	default:
		return nil, validation.Errorf("unknown kind %q", op.Kind)
	}
}

func (a *StoreApplier) create(ctx context.Context, h entity.Handler, op *models.SyncOperation) (*models.Entity, error) {
	var created *models.Entity
	err := a.store.WithTx(ctx, func(tx storage.EntityTx) error {
		var err error
		created, err = h.Create(ctx, tx, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// modify применяет UPDATE или DELETE.
// Конфликт проверяется до транзакции (журнал конфликтов пишется вне ее),
// запись делается compare-and-swap по версии, против которой принято решение.
func (a *StoreApplier) modify(ctx context.Context, h entity.Handler, op *models.SyncOperation) (*models.Entity, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		stored, err := a.store.FindEntity(ctx, op.OwnerID, op.EntityType, op.EntityID)
		if err != nil {
			return nil, err
		}

		if decision := a.resolver.Check(ctx, stored, op); decision != nil && !decision.Accept {
			return nil, fmt.Errorf("%w: conflict %s on %s %s resolved as %s",
				conflict.ErrRejected, decision.Record.ID, op.EntityType, op.EntityID, resolutionOf(decision.Record))
		}

		var result *models.Entity
		err = a.store.WithTx(ctx, func(tx storage.EntityTx) error {
			if op.Kind == models.OperationDelete {
				_, err := h.Delete(ctx, tx, op, stored.Version)
				return err
			}

			var err error
			result, err = h.Update(ctx, tx, op, stored)
			return err
		})

		if errors.Is(err, storage.ErrVersionMismatch) {
			a.logger.Debug("Entity version moved, re-checking conflict",
				"operation_id", op.ID,
				"entity_id", op.EntityID,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		return result, nil
	}

	return nil, fmt.Errorf("%w: %s %s kept changing after %d attempts",
		conflict.ErrRejected, op.EntityType, op.EntityID, a.maxAttempts)
}

func resolutionOf(record *models.ConflictRecord) string {
	if record.Resolution == nil {
		return string(record.Status)
	}
	return *record.Resolution
}
