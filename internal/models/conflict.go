package models

import (
	"encoding/json"
	"time"
)

// ConflictStrategy стратегия разрешения конфликтов для типа сущности
type ConflictStrategy string

const (
	StrategyLastWriteWins  ConflictStrategy = "LAST_WRITE_WINS"
	StrategyDevicePriority ConflictStrategy = "DEVICE_PRIORITY"
	StrategyManual         ConflictStrategy = "MANUAL"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyLastWriteWins, StrategyDevicePriority, StrategyManual:
		return true
	}
	return false
}

// ConflictStatus статус записи о конфликте
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Исходы автоматического разрешения
const (
	ResolutionLocalWins  = "local_wins"  // сохраненная версия осталась, входящая запись отброшена
	ResolutionRemoteWins = "remote_wins" // входящая запись применена поверх сохраненной
)

// ConflictRecord запись аудита о конфликте.
// Создается при каждом обнаруженном конфликте, изменяется только для
// установки решения и никогда не удаляется.
type ConflictRecord struct {
	DetectedAt    time.Time        `json:"detected_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
	Resolution    *string          `json:"resolution,omitempty"`
	ID            string           `json:"id"`
	EntityType    string           `json:"entity_type"`
	EntityID      string           `json:"entity_id"`
	OwnerID       string           `json:"owner_id"`
	DeviceID      string           `json:"device_id"` // DeviceID устройство, приславшее конфликтующую запись
	Strategy      ConflictStrategy `json:"strategy"`
	Status        ConflictStatus   `json:"status"`
	LocalVersion  json.RawMessage  `json:"local_version"`  // LocalVersion снимок сохраненной версии
	RemoteVersion json.RawMessage  `json:"remote_version"` // RemoteVersion снимок входящей операции
}
