package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
)

// UpsertDevice creates or updates device record
// Zero Name, Type and nil priority keep the stored values, last_seen never moves back
func (s *Storage) UpsertDevice(ctx context.Context, device *models.DeviceRecord, priority *int) error {
	var prio sql.NullInt64
	if priority != nil {
		prio = sql.NullInt64{Int64: int64(*priority), Valid: true}
	}

	query := `
		INSERT INTO devices (user_id, device_id, name, type, priority, last_seen)
		VALUES (?, ?, ?, ?, COALESCE(?, 0), ?)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			name      = CASE WHEN excluded.name <> '' THEN excluded.name ELSE devices.name END,
			type      = CASE WHEN excluded.type <> '' THEN excluded.type ELSE devices.type END,
			priority  = COALESCE(?, devices.priority),
			last_seen = MAX(devices.last_seen, excluded.last_seen)
	`

	_, err := s.db.ExecContext(ctx, query,
		device.UserID,
		device.DeviceID,
		device.Name,
		device.Type,
		prio,
		timeToUnixNano(device.LastSeen),
		prio,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// GetDevice retrieves device by user and device ID
func (s *Storage) GetDevice(ctx context.Context, userID, deviceID string) (*models.DeviceRecord, error) {
	query := `
		SELECT user_id, device_id, name, type, priority, last_seen
		FROM devices
		WHERE user_id = ? AND device_id = ?
	`

	device, err := scanDevice(s.db.QueryRowContext(ctx, query, userID, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// ListDevices returns all devices of a user ordered by last seen, newest first
func (s *Storage) ListDevices(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, device_id, name, type, priority, last_seen
		FROM devices
		WHERE user_id = ?
		ORDER BY last_seen DESC, device_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*models.DeviceRecord, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

func scanDevice(row rowScanner) (*models.DeviceRecord, error) {
	device := &models.DeviceRecord{}
	var lastSeen int64

	if err := row.Scan(
		&device.UserID,
		&device.DeviceID,
		&device.Name,
		&device.Type,
		&device.Priority,
		&lastSeen,
	); err != nil {
		return nil, err
	}

	device.LastSeen = unixNanoToTime(lastSeen)
	return device, nil
}
