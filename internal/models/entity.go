package models

import (
	"encoding/json"
	"time"
)

// Entity представляет сохраненную сущность любого типа.
// Данные хранятся как JSON, тип определяет обработчик в entity.Registry.
type Entity struct {
	CreatedAt       time.Time       `json:"created_at"`       // CreatedAt серверное время создания
	UpdatedAt       time.Time       `json:"updated_at"`       // UpdatedAt серверная метка последней записи, используется для дельты
	ClientTimestamp time.Time       `json:"client_timestamp"` // ClientTimestamp время последнего изменения на устройстве
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	OwnerID         string          `json:"owner_id"`
	DeviceID        string          `json:"device_id"` // DeviceID устройство, сделавшее последнюю запись
	Data            json.RawMessage `json:"data"`
	Version         int64           `json:"version"` // Version счетчик записей, начинается с 1
}

// Clone создает глубокую копию сущности
func (e *Entity) Clone() *Entity {
	data := make(json.RawMessage, len(e.Data))
	copy(data, e.Data)

	clone := *e
	clone.Data = data
	return &clone
}

// Snapshot serializes the entity for the conflict audit trail.
func (e *Entity) Snapshot() json.RawMessage {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return b
}

// Типы сущностей, которые синхронизируются
const (
	EntityTypeTrip   = "Trip"
	EntityTypeMemory = "Memory"
)

// Trip путешествие пользователя
type Trip struct {
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
}

// Memory запись (заметка, фото) внутри путешествия
type Memory struct {
	TakenAt  *time.Time `json:"takenAt,omitempty"`
	ID       string     `json:"id"`
	TripID   string     `json:"tripId"`
	Title    string     `json:"title"`
	Body     string     `json:"body,omitempty"`
	MediaKey string     `json:"mediaKey,omitempty"` // MediaKey ключ объекта в хранилище медиа, URL подписывается вне ядра
}
