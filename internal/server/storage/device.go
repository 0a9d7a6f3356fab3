package storage

import (
	"context"

	"github.com/iudanet/tripsync/internal/models"
)

// DeviceStore defines interface for device metadata persistence
type DeviceStore interface {
	// UpsertDevice creates or updates device record
	// Zero Name, Type and nil priority keep the stored values
	UpsertDevice(ctx context.Context, device *models.DeviceRecord, priority *int) error

	// GetDevice retrieves device by user and device ID
	// Returns ErrDeviceNotFound if device doesn't exist
	GetDevice(ctx context.Context, userID, deviceID string) (*models.DeviceRecord, error)

	// ListDevices returns all devices of a user ordered by last seen, newest first
	ListDevices(ctx context.Context, userID string) ([]*models.DeviceRecord, error)
}
