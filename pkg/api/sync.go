package api

import (
	"encoding/json"
	"time"
)

// Заголовки, которыми клиент представляет устройство
const (
	HeaderDeviceID       = "X-Device-ID"
	HeaderDeviceName     = "X-Device-Name"
	HeaderDeviceType     = "X-Device-Type"
	HeaderDevicePriority = "X-Device-Priority"
)

// Operation одна операция батча
type Operation struct {
	ClientTimestamp *time.Time      `json:"clientTimestamp,omitempty"` // ClientTimestamp время изменения на устройстве
	BaseVersion     *int64          `json:"baseVersion,omitempty"`     // BaseVersion версия, от которой клиент делал изменение
	ID              string          `json:"id"`
	Type            string          `json:"type"` // Type CREATE, UPDATE или DELETE
	EntityType      string          `json:"entityType"`
	EntityID        string          `json:"entityId,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty"`
}

// BatchOptions параметры исполнения батча
type BatchOptions struct {
	BatchSize      int   `json:"batchSize,omitempty"`
	MaxConcurrency int   `json:"maxConcurrency,omitempty"`
	TimeoutMs      int64 `json:"timeoutMs,omitempty"` // TimeoutMs таймаут одной операции
	SkipValidation bool  `json:"skipValidation,omitempty"`
}

// BatchSyncRequest запрос POST /api/v1/sync/batch
type BatchSyncRequest struct {
	Options    *BatchOptions `json:"options,omitempty"`
	Operations []Operation   `json:"operations"`
}

// OperationResult успешно примененная операция
type OperationResult struct {
	Entity       *Entity `json:"entity,omitempty"` // Entity итоговое состояние, nil для DELETE
	OperationID  string  `json:"operationId"`
	Status       string  `json:"status"`
	ProcessingMs float64 `json:"processingMs"`
}

// FailedOperation операция, которая не была применена
type FailedOperation struct {
	OperationID string `json:"operationId"`
	Code        string `json:"code"`
	Error       string `json:"error"`
	EntityType  string `json:"entityType"`
	Type        string `json:"type"`
}

// BatchMetrics показатели исполнения батча
type BatchMetrics struct {
	Windows        int     `json:"windows"`
	AvgOperationMs float64 `json:"avgOperationMs"`
}

// BatchSyncResponse ответ на батч. Частичные ошибки не делают ответ ошибкой
type BatchSyncResponse struct {
	Successful      []OperationResult `json:"successful"`
	Failed          []FailedOperation `json:"failed"`
	Metrics         BatchMetrics      `json:"metrics"`
	ProcessedCount  int               `json:"processedCount"`
	TotalDurationMs int64             `json:"totalDurationMs"`
	SuccessRate     float64           `json:"successRate"`
}

// Entity сущность в ответах
type Entity struct {
	UpdatedAt       time.Time       `json:"updatedAt"`
	ClientTimestamp time.Time       `json:"clientTimestamp"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	DeviceID        string          `json:"deviceId"`
	Data            json.RawMessage `json:"data"`
	Version         int64           `json:"version"`
}

// IncrementalSyncResponse ответ GET /api/v1/sync/incremental
type IncrementalSyncResponse struct {
	Watermark  time.Time           `json:"watermark"`
	Entities   map[string][]Entity `json:"entities"`
	Deleted    map[string][]string `json:"deleted"`
	FullResync bool                `json:"fullResync"`
}

// ErrorResponse тело ответа об ошибке
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	OperationID string `json:"operationId,omitempty"`
}
