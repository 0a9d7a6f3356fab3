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

const entityColumns = `
	id, owner_id, type, data, version, client_ts, device_id, created_at, updated_at
`

// queryer общий интерфейс *sql.DB и *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// entityTx implements storage.EntityTx on top of one sql.Tx
type entityTx struct {
	tx    *sql.Tx
	stamp *stamper
}

// WithTx runs fn inside one transaction. fn error rolls the transaction back
func (s *Storage) WithTx(ctx context.Context, fn func(tx storage.EntityTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&entityTx{tx: tx, stamp: s.stamp}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindEntity retrieves a live entity outside of any operation transaction
func (s *Storage) FindEntity(ctx context.Context, ownerID, entityType, id string) (*models.Entity, error) {
	return getEntity(ctx, s.db, ownerID, entityType, id)
}

// EntityExists reports whether any live entity with this id belongs to ownerID
func (s *Storage) EntityExists(ctx context.Context, ownerID, id string) (bool, error) {
	return entityExists(ctx, s.db, ownerID, id)
}

// GetEntity retrieves a live entity inside the transaction
func (t *entityTx) GetEntity(ctx context.Context, ownerID, entityType, id string) (*models.Entity, error) {
	return getEntity(ctx, t.tx, ownerID, entityType, id)
}

// InsertEntity stores a new entity and clears a tombstone left by an earlier delete
// of the same id and type. Tombstones of other types stay visible to clients.
func (t *entityTx) InsertEntity(ctx context.Context, entity *models.Entity) error {
	exists, err := entityExists(ctx, t.tx, entity.OwnerID, entity.ID)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrEntityAlreadyExists
	}

	now := t.stamp.next()
	entity.Version = 1
	entity.CreatedAt = now
	entity.UpdatedAt = now

	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = t.tx.ExecContext(ctx, query,
		entity.ID,
		entity.OwnerID,
		entity.Type,
		[]byte(entity.Data),
		entity.Version,
		timeToUnixNano(entity.ClientTimestamp),
		entity.DeviceID,
		timeToUnixNano(entity.CreatedAt),
		timeToUnixNano(entity.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}

	// Сущность воскрешена - ее tombstone больше не актуален
	_, err = t.tx.ExecContext(ctx,
		`DELETE FROM tombstones WHERE owner_id = ? AND entity_type = ? AND entity_id = ?`,
		entity.OwnerID, entity.Type, entity.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear tombstone: %w", err)
	}

	return nil
}

// UpdateEntity replaces entity data if stored version equals expectedVersion
func (t *entityTx) UpdateEntity(ctx context.Context, entity *models.Entity, expectedVersion int64) error {
	now := t.stamp.next()

	query := `
		UPDATE entities
		SET data = ?, version = version + 1, client_ts = ?, device_id = ?, updated_at = ?
		WHERE owner_id = ? AND type = ? AND id = ? AND version = ?
	`

	result, err := t.tx.ExecContext(ctx, query,
		[]byte(entity.Data),
		timeToUnixNano(entity.ClientTimestamp),
		entity.DeviceID,
		timeToUnixNano(now),
		entity.OwnerID,
		entity.Type,
		entity.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return t.missOrMismatch(ctx, entity.OwnerID, entity.ID)
	}

	entity.Version = expectedVersion + 1
	entity.UpdatedAt = now

	return nil
}

// DeleteEntity removes entity and writes a tombstone in the same transaction
func (t *entityTx) DeleteEntity(ctx context.Context, ownerID, entityType, id string, expectedVersion int64) (*models.Tombstone, error) {
	query := `DELETE FROM entities WHERE owner_id = ? AND type = ? AND id = ?`
	args := []any{ownerID, entityType, id}
	if expectedVersion > 0 {
		query += ` AND version = ?`
		args = append(args, expectedVersion)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete entity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return nil, t.missOrMismatch(ctx, ownerID, id)
	}

	tombstone := &models.Tombstone{
		EntityID:   id,
		EntityType: entityType,
		OwnerID:    ownerID,
		DeletedAt:  t.stamp.next(),
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO tombstones (owner_id, entity_id, entity_type, deleted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, entity_type, entity_id)
		DO UPDATE SET deleted_at = excluded.deleted_at
	`,
		tombstone.OwnerID,
		tombstone.EntityID,
		tombstone.EntityType,
		timeToUnixNano(tombstone.DeletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tombstone: %w", err)
	}

	return tombstone, nil
}

// missOrMismatch различает отсутствие строки и устаревшую версию
func (t *entityTx) missOrMismatch(ctx context.Context, ownerID, id string) error {
	exists, err := entityExists(ctx, t.tx, ownerID, id)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrVersionMismatch
	}
	return storage.ErrEntityNotFound
}

// ReadChanges returns entities and tombstones changed after since from one consistent snapshot
func (s *Storage) ReadChanges(ctx context.Context, ownerID string, since *time.Time) (*storage.ChangeSet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after Commit
	}()

	// Watermark захватывается до чтения: все последующие записи получат метку больше нее
	watermark := s.stamp.next()

	var lower int64 = -1
	if since != nil {
		lower = timeToUnixNano(*since)
	}
	upper := timeToUnixNano(watermark)

	rows, err := tx.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE owner_id = ? AND updated_at > ? AND updated_at <= ?
		ORDER BY updated_at ASC
	`, ownerID, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed entities: %w", err)
	}

	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}

	tombstones, err := queryTombstones(ctx, tx, ownerID, lower, upper)
	if err != nil {
		return nil, err
	}

	// Клиент получит watermark: после перезапуска метки должны остаться выше нее
	if err := saveStamp(ctx, tx, watermark); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read transaction: %w", err)
	}

	return &storage.ChangeSet{
		Watermark:  watermark,
		Entities:   entities,
		Tombstones: tombstones,
	}, nil
}

func getEntity(ctx context.Context, q queryer, ownerID, entityType, id string) (*models.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE owner_id = ? AND type = ? AND id = ?
	`

	entity, err := scanEntity(q.QueryRowContext(ctx, query, ownerID, entityType, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	return entity, nil
}

func entityExists(ctx context.Context, q queryer, ownerID, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM entities WHERE owner_id = ? AND id = ?`,
		ownerID, id,
	).Scan(&one)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check entity existence: %w", err)
	}

	return true, nil
}

// rowScanner общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	entity := &models.Entity{}
	var data []byte
	var clientTS, createdAt, updatedAt int64

	err := row.Scan(
		&entity.ID,
		&entity.OwnerID,
		&entity.Type,
		&data,
		&entity.Version,
		&clientTS,
		&entity.DeviceID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.Data = data
	if clientTS != 0 {
		entity.ClientTimestamp = unixNanoToTime(clientTS)
	}
	entity.CreatedAt = unixNanoToTime(createdAt)
	entity.UpdatedAt = unixNanoToTime(updatedAt)

	return entity, nil
}

// scanEntities is a helper function to scan multiple entities from rows
func scanEntities(rows *sql.Rows) ([]*models.Entity, error) {
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entities, nil
}
