package entity

import (
	"context"
	"errors"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
	"github.com/iudanet/tripsync/internal/validation"
)

// NewTripHandler returns handler for Trip. Trip requires a name
func NewTripHandler() Handler {
	return &document{
		entityType: models.EntityTypeTrip,
		required:   []string{"name"},
		shape:      func() any { return &models.Trip{} },
	}
}

// NewMemoryHandler returns handler for Memory.
// Memory requires title and tripId, the referenced Trip must exist
func NewMemoryHandler() Handler {
	return &document{
		entityType: models.EntityTypeMemory,
		required:   []string{"title", "tripId"},
		checkRefs:  requireTrip,
		shape:      func() any { return &models.Memory{} },
	}
}

func requireTrip(ctx context.Context, tx storage.EntityTx, ownerID string, fields map[string]any) error {
	tripID, _ := fields["tripId"].(string)

	_, err := tx.GetEntity(ctx, ownerID, models.EntityTypeTrip, tripID)
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return validation.Errorf("Memory: trip %q does not exist", tripID)
		}
		return err
	}

	return nil
}
