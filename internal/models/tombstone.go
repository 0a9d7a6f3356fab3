package models

import "time"

// Tombstone маркер удаления сущности.
// Позволяет устройствам, синхронизирующимся после удаления, узнать о нем.
type Tombstone struct {
	DeletedAt  time.Time `json:"deleted_at"`
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	OwnerID    string    `json:"owner_id"`
}
