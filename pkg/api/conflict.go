package api

import (
	"encoding/json"
	"time"
)

// ConflictRecord запись журнала конфликтов
type ConflictRecord struct {
	DetectedAt    time.Time       `json:"detectedAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
	Resolution    *string         `json:"resolution,omitempty"`
	ID            string          `json:"id"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	DeviceID      string          `json:"deviceId"`
	Strategy      string          `json:"strategy"`
	Status        string          `json:"status"`
	LocalVersion  json.RawMessage `json:"localVersion"`
	RemoteVersion json.RawMessage `json:"remoteVersion"`
}

// ConflictListResponse ответ GET /api/v1/conflicts
type ConflictListResponse struct {
	Conflicts []ConflictRecord `json:"conflicts"`
}

// ResolveConflictRequest запрос POST /api/v1/conflicts/{id}/resolve
type ResolveConflictRequest struct {
	Resolution string `json:"resolution"`
}
