package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/tripsync/internal/models"
)

// PruneTombstones deletes tombstones older than before and returns the number removed
func (s *Storage) PruneTombstones(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tombstones WHERE deleted_at < ?`,
		timeToUnixNano(before),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tombstones: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

func queryTombstones(ctx context.Context, q queryer, ownerID string, lower, upper int64) ([]*models.Tombstone, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT owner_id, entity_id, entity_type, deleted_at
		FROM tombstones
		WHERE owner_id = ? AND deleted_at > ? AND deleted_at <= ?
		ORDER BY deleted_at ASC
	`, ownerID, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()

	var tombstones []*models.Tombstone
	for rows.Next() {
		tombstone := &models.Tombstone{}
		var deletedAt int64

		if err := rows.Scan(
			&tombstone.OwnerID,
			&tombstone.EntityID,
			&tombstone.EntityType,
			&deletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}

		tombstone.DeletedAt = unixNanoToTime(deletedAt)
		tombstones = append(tombstones, tombstone)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tombstones, nil
}
