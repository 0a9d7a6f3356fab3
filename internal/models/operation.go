package models

import (
	"encoding/json"
	"time"
)

// OperationKind тип операции в батче синхронизации
type OperationKind string

const (
	OperationCreate OperationKind = "CREATE"
	OperationUpdate OperationKind = "UPDATE"
	OperationDelete OperationKind = "DELETE"
)

// Valid reports whether k is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// SyncOperation представляет одну операцию из батча, присланного клиентом.
// Живет только в рамках обработки одного батча.
type SyncOperation struct {
	SubmittedAt     time.Time       `json:"submitted_at"`     // SubmittedAt время получения батча сервером
	ClientTimestamp time.Time       `json:"client_timestamp"` // ClientTimestamp время изменения на устройстве
	BaseVersion     *int64          `json:"base_version"`     // BaseVersion версия, которую клиент видел последней (nil = без проверки)
	ID              string          `json:"id"`               // ID уникален в пределах батча
	Kind            OperationKind   `json:"kind"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"` // EntityID цель UPDATE/DELETE, опционально для CREATE
	OwnerID         string          `json:"owner_id"`
	DeviceID        string          `json:"device_id"`
	Payload         json.RawMessage `json:"payload"`
	Dependencies    []string        `json:"dependencies"`
}

// OperationResult результат применения одной операции
type OperationResult struct {
	Err         error
	Entity      *Entity
	OperationID string
	Duration    time.Duration
}

// Succeeded reports whether the operation was applied.
func (r *OperationResult) Succeeded() bool {
	return r.Err == nil
}
