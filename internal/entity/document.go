package entity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
	"github.com/iudanet/tripsync/internal/validation"
)

// idField поле документа, которое всегда совпадает с id сущности
const idField = "id"

// document общий обработчик JSON-документов.
// Конкретный тип задает обязательные поля, проверку ссылок внутри
// транзакции (checkRefs) и типизированную модель (shape), в которую
// должны декодироваться известные поля. Неизвестные поля сохраняются как есть.
type document struct {
	checkRefs  func(ctx context.Context, tx storage.EntityTx, ownerID string, fields map[string]any) error
	shape      func() any
	entityType string
	required   []string
}

func (d *document) EntityType() string {
	return d.entityType
}

// Validate для CREATE требует все обязательные поля,
// для UPDATE - чтобы переданные обязательные поля не были пустыми
func (d *document) Validate(op *models.SyncOperation) error {
	if op.Kind == models.OperationDelete {
		return nil
	}

	fields, err := validation.DecodeObject(op.Payload)
	if err != nil {
		return validation.Errorf("%s: %s", d.entityType, err.Error())
	}

	for _, name := range d.required {
		if _, present := fields[name]; !present && op.Kind == models.OperationUpdate {
			continue
		}
		if err := validation.RequireString(fields, name); err != nil {
			return fmt.Errorf("%s: %w", d.entityType, err)
		}
	}

	return nil
}

func (d *document) Create(ctx context.Context, tx storage.EntityTx, op *models.SyncOperation) (*models.Entity, error) {
	fields, err := validation.DecodeObject(op.Payload)
	if err != nil {
		return nil, validation.Errorf("%s: %s", d.entityType, err.Error())
	}

	id := op.EntityID
	if id == "" {
		id = uuid.New().String()
	}
	fields[idField] = id

	data, err := d.encode(ctx, tx, op.OwnerID, fields)
	if err != nil {
		return nil, err
	}

	entity := &models.Entity{
		ID:              id,
		Type:            d.entityType,
		OwnerID:         op.OwnerID,
		DeviceID:        op.DeviceID,
		Data:            data,
		ClientTimestamp: op.ClientTimestamp,
	}

	if err := tx.InsertEntity(ctx, entity); err != nil {
		return nil, err
	}

	return entity, nil
}

// Update накладывает поля payload поверх сохраненного документа (верхний уровень)
func (d *document) Update(ctx context.Context, tx storage.EntityTx, op *models.SyncOperation, current *models.Entity) (*models.Entity, error) {
	patch, err := validation.DecodeObject(op.Payload)
	if err != nil {
		return nil, validation.Errorf("%s: %s", d.entityType, err.Error())
	}

	fields, err := validation.DecodeObject(current.Data)
	if err != nil {
		return nil, fmt.Errorf("stored %s %s is corrupted: %w", d.entityType, current.ID, err)
	}

	for k, v := range patch {
		fields[k] = v
	}
	fields[idField] = current.ID

	data, err := d.encode(ctx, tx, op.OwnerID, fields)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.Data = data
	updated.DeviceID = op.DeviceID
	updated.ClientTimestamp = op.ClientTimestamp

	if err := tx.UpdateEntity(ctx, updated, current.Version); err != nil {
		return nil, err
	}

	return updated, nil
}

func (d *document) Delete(ctx context.Context, tx storage.EntityTx, op *models.SyncOperation, expectedVersion int64) (*models.Tombstone, error) {
	return tx.DeleteEntity(ctx, op.OwnerID, d.entityType, op.EntityID, expectedVersion)
}

// encode проверяет итоговый документ (обязательные поля, типы известных
// полей, ссылки) и сериализует его
func (d *document) encode(ctx context.Context, tx storage.EntityTx, ownerID string, fields map[string]any) (json.RawMessage, error) {
	for _, name := range d.required {
		if err := validation.RequireString(fields, name); err != nil {
			return nil, fmt.Errorf("%s: %w", d.entityType, err)
		}
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", d.entityType, err)
	}

	if d.shape != nil {
		if err := json.Unmarshal(data, d.shape()); err != nil {
			return nil, validation.Errorf("%s: %s", d.entityType, err.Error())
		}
	}

	if d.checkRefs != nil {
		if err := d.checkRefs(ctx, tx, ownerID, fields); err != nil {
			return nil, err
		}
	}

	return data, nil
}
