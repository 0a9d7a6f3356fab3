package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
)

const conflictColumns = `
	id, owner_id, entity_type, entity_id, device_id, strategy, status,
	local_version, remote_version, resolution, detected_at, resolved_at
`

// SaveConflict appends a new conflict record
func (s *Storage) SaveConflict(ctx context.Context, record *models.ConflictRecord) error {
	query := `
		INSERT INTO conflicts (` + conflictColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var resolvedAt sql.NullInt64
	if record.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: timeToUnixNano(*record.ResolvedAt), Valid: true}
	}

	var resolution sql.NullString
	if record.Resolution != nil {
		resolution = sql.NullString{String: *record.Resolution, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.OwnerID,
		record.EntityType,
		record.EntityID,
		record.DeviceID,
		string(record.Strategy),
		string(record.Status),
		[]byte(record.LocalVersion),
		[]byte(record.RemoteVersion),
		resolution,
		timeToUnixNano(record.DetectedAt),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}

	return nil
}

// GetConflict retrieves conflict record by ID
func (s *Storage) GetConflict(ctx context.Context, ownerID, id string) (*models.ConflictRecord, error) {
	query := `
		SELECT ` + conflictColumns + `
		FROM conflicts
		WHERE owner_id = ? AND id = ?
	`

	record, err := scanConflict(s.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	return record, nil
}

// ListConflicts returns owner's conflict records, newest first
func (s *Storage) ListConflicts(ctx context.Context, ownerID string, status models.ConflictStatus) ([]*models.ConflictRecord, error) {
	query := `
		SELECT ` + conflictColumns + `
		FROM conflicts
		WHERE owner_id = ?
	`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY detected_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ConflictRecord, 0)
	for rows.Next() {
		record, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

// ResolveConflict attaches a resolution to a pending record
func (s *Storage) ResolveConflict(ctx context.Context, ownerID, id, resolution string, resolvedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conflicts
		SET status = ?, resolution = ?, resolved_at = ?
		WHERE owner_id = ? AND id = ? AND status = ?
	`,
		string(models.ConflictResolved),
		resolution,
		timeToUnixNano(resolvedAt),
		ownerID,
		id,
		string(models.ConflictPending),
	)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		// Запись либо отсутствует, либо уже разрешена
		if _, err := s.GetConflict(ctx, ownerID, id); err != nil {
			return err
		}
		return storage.ErrConflictAlreadyResolved
	}

	return nil
}

func scanConflict(row rowScanner) (*models.ConflictRecord, error) {
	record := &models.ConflictRecord{}
	var strategy, status string
	var local, remote []byte
	var resolution sql.NullString
	var detectedAt int64
	var resolvedAt sql.NullInt64

	err := row.Scan(
		&record.ID,
		&record.OwnerID,
		&record.EntityType,
		&record.EntityID,
		&record.DeviceID,
		&strategy,
		&status,
		&local,
		&remote,
		&resolution,
		&detectedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Strategy = models.ConflictStrategy(strategy)
	record.Status = models.ConflictStatus(status)
	record.LocalVersion = local
	record.RemoteVersion = remote
	record.DetectedAt = unixNanoToTime(detectedAt)

	if resolution.Valid {
		r := resolution.String
		record.Resolution = &r
	}
	if resolvedAt.Valid {
		t := unixNanoToTime(resolvedAt.Int64)
		record.ResolvedAt = &t
	}

	return record, nil
}
