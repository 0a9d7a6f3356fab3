package storage

import (
	"context"
	"time"

	"github.com/iudanet/tripsync/internal/models"
)

// ConflictStore defines interface for the conflict audit trail
type ConflictStore interface {
	// SaveConflict appends a new conflict record
	SaveConflict(ctx context.Context, record *models.ConflictRecord) error

	// GetConflict retrieves conflict record by ID
	// Returns ErrConflictNotFound if record doesn't exist
	GetConflict(ctx context.Context, ownerID, id string) (*models.ConflictRecord, error)

	// ListConflicts returns owner's conflict records, newest first
	// Empty status returns all records
	ListConflicts(ctx context.Context, ownerID string, status models.ConflictStatus) ([]*models.ConflictRecord, error)

	// ResolveConflict attaches a resolution to a pending record
	// Returns ErrConflictNotFound or ErrConflictAlreadyResolved
	ResolveConflict(ctx context.Context, ownerID, id, resolution string, resolvedAt time.Time) error
}
