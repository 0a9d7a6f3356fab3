package storage

import (
	"context"
	"time"

	"github.com/iudanet/tripsync/internal/models"
)

// EntityTx is the set of writes available to one operation inside its own transaction
type EntityTx interface {
	// GetEntity retrieves a live entity of the given type owned by ownerID
	// Returns ErrEntityNotFound if entity doesn't exist
	GetEntity(ctx context.Context, ownerID, entityType, id string) (*models.Entity, error)

	// InsertEntity stores a new entity, stamping Version, CreatedAt and UpdatedAt
	// Returns ErrEntityAlreadyExists if id is taken
	InsertEntity(ctx context.Context, entity *models.Entity) error

	// UpdateEntity replaces entity data if stored version equals expectedVersion
	// Bumps Version and stamps UpdatedAt
	// Returns ErrEntityNotFound if entity doesn't exist, ErrVersionMismatch if version moved
	UpdateEntity(ctx context.Context, entity *models.Entity, expectedVersion int64) error

	// DeleteEntity removes entity and writes a tombstone in the same transaction
	// expectedVersion <= 0 disables the version check
	// Returns ErrEntityNotFound if no row matched
	DeleteEntity(ctx context.Context, ownerID, entityType, id string, expectedVersion int64) (*models.Tombstone, error)
}

// EntityStore defines interface for synchronized entity persistence
type EntityStore interface {
	// WithTx runs fn inside one transaction. fn error rolls the transaction back
	WithTx(ctx context.Context, fn func(tx EntityTx) error) error

	// FindEntity retrieves a live entity outside of any operation transaction
	// Returns ErrEntityNotFound if entity doesn't exist
	FindEntity(ctx context.Context, ownerID, entityType, id string) (*models.Entity, error)

	// EntityExists reports whether any live entity with this id belongs to ownerID
	EntityExists(ctx context.Context, ownerID, id string) (bool, error)

	// ReadChanges returns entities and tombstones changed after since (nil = full history)
	// from one consistent snapshot, together with the watermark bounding that snapshot
	ReadChanges(ctx context.Context, ownerID string, since *time.Time) (*ChangeSet, error)

	// PruneTombstones deletes tombstones older than before and returns the number removed
	PruneTombstones(ctx context.Context, before time.Time) (int64, error)
}

// ChangeSet is the result of one consistent delta read
type ChangeSet struct {
	Watermark  time.Time
	Entities   []*models.Entity
	Tombstones []*models.Tombstone
}
