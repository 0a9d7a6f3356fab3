package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/tripsync/internal/delta"
	"github.com/iudanet/tripsync/internal/device"
	"github.com/iudanet/tripsync/internal/engine"
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/validation"
	"github.com/iudanet/tripsync/pkg/api"
)

// BatchSyncer применяет батч операций
type BatchSyncer interface {
	SyncBatch(ctx context.Context, req *engine.BatchRequest) (*engine.BatchResult, error)
}

// DeltaProducer формирует инкрементальные изменения
type DeltaProducer interface {
	Changes(ctx context.Context, ownerID string, since *time.Time) (*delta.Delta, error)
}

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger       *slog.Logger
	batches      BatchSyncer
	deltas       DeltaProducer
	maxBodyBytes int64
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, batches BatchSyncer, deltas DeltaProducer, maxBodyBytes int64) *SyncHandler {
	return &SyncHandler{
		logger:       logger,
		batches:      batches,
		deltas:       deltas,
		maxBodyBytes: maxBodyBytes,
	}
}

// BatchSync обрабатывает POST /api/v1/sync/batch
func (h *SyncHandler) BatchSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Получаем user_id из контекста (установлен AuthMiddleware)
	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	info, err := deviceFromHeaders(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error(), string(engine.CodeValidation))
		return
	}

	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	var req api.BatchSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode batch request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", string(engine.CodeValidation))
		return
	}

	batch := toBatchRequest(userID, info, &req)

	h.logger.Info("Batch sync request",
		"user_id", userID,
		"device_id", info.DeviceID,
		"operations", len(batch.Operations))

	result, err := h.batches.SyncBatch(ctx, batch)
	if err != nil {
		h.writeBatchError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toBatchResponse(&req, result))
}

func (h *SyncHandler) writeBatchError(w http.ResponseWriter, err error) {
	var cycleErr *engine.CyclicDependencyError
	switch {
	case errors.As(err, &cycleErr):
		writeJSON(w, h.logger, http.StatusConflict, api.ErrorResponse{
			Error:       cycleErr.Error(),
			Code:        string(engine.CodeCyclicDependency),
			OperationID: cycleErr.OperationID,
		})
	case errors.Is(err, validation.ErrInvalid):
		writeError(w, h.logger, http.StatusBadRequest, err.Error(), string(engine.CodeValidation))
	default:
		h.logger.Error("Batch sync failed", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", string(engine.CodeStorage))
	}
}

// IncrementalSync обрабатывает GET /api/v1/sync/incremental?since=RFC3339Nano
func (h *SyncHandler) IncrementalSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var since *time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339Nano, sinceStr)
		if err != nil {
			h.logger.Warn("Invalid since parameter", "since", sinceStr, "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "invalid since parameter", string(engine.CodeValidation))
			return
		}
		since = &parsed
	}

	d, err := h.deltas.Changes(ctx, userID, since)
	if err != nil {
		h.logger.Error("Failed to produce delta", "error", err, "user_id", userID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", string(engine.CodeStorage))
		return
	}

	resp := api.IncrementalSyncResponse{
		Watermark:  d.Watermark,
		Entities:   make(map[string][]api.Entity, len(d.Entities)),
		Deleted:    d.Deleted,
		FullResync: d.FullResync,
	}

	count := 0
	for entityType, entities := range d.Entities {
		converted := make([]api.Entity, 0, len(entities))
		for _, e := range entities {
			converted = append(converted, toAPIEntity(e))
		}
		resp.Entities[entityType] = converted
		count += len(converted)
	}

	writeJSON(w, h.logger, http.StatusOK, resp)

	h.logger.Info("Incremental sync completed",
		"user_id", userID,
		"entities", count,
		"full_resync", d.FullResync)
}

// deviceFromHeaders читает описание устройства из заголовков X-Device-*
func deviceFromHeaders(r *http.Request) (device.Info, error) {
	info := device.Info{
		DeviceID: strings.TrimSpace(r.Header.Get(api.HeaderDeviceID)),
		Name:     r.Header.Get(api.HeaderDeviceName),
		Type:     r.Header.Get(api.HeaderDeviceType),
	}

	if info.DeviceID == "" {
		return info, validation.Errorf("%s header is required", api.HeaderDeviceID)
	}

	if raw := r.Header.Get(api.HeaderDevicePriority); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil {
			return info, validation.Errorf("%s must be an integer", api.HeaderDevicePriority)
		}
		info.Priority = &priority
	}

	return info, nil
}

func toBatchRequest(userID string, info device.Info, req *api.BatchSyncRequest) *engine.BatchRequest {
	ops := make([]*models.SyncOperation, 0, len(req.Operations))
	for _, op := range req.Operations {
		converted := &models.SyncOperation{
			ID:           op.ID,
			Kind:         models.OperationKind(strings.ToUpper(op.Type)),
			EntityType:   op.EntityType,
			EntityID:     op.EntityID,
			BaseVersion:  op.BaseVersion,
			Payload:      op.Payload,
			Dependencies: op.Dependencies,
		}
		if op.ClientTimestamp != nil {
			converted.ClientTimestamp = op.ClientTimestamp.UTC()
		}
		ops = append(ops, converted)
	}

	batch := &engine.BatchRequest{
		OwnerID:    userID,
		Device:     info,
		Operations: ops,
	}

	if req.Options != nil {
		batch.Options = engine.RequestOptions{
			BatchSize:      req.Options.BatchSize,
			MaxConcurrency: req.Options.MaxConcurrency,
			Timeout:        time.Duration(req.Options.TimeoutMs) * time.Millisecond,
			SkipValidation: req.Options.SkipValidation,
		}
	}

	return batch
}

func toBatchResponse(req *api.BatchSyncRequest, result *engine.BatchResult) api.BatchSyncResponse {
	submitted := make(map[string]api.Operation, len(req.Operations))
	for _, op := range req.Operations {
		submitted[op.ID] = op
	}

	resp := api.BatchSyncResponse{
		Successful:      make([]api.OperationResult, 0, result.Succeeded),
		Failed:          make([]api.FailedOperation, 0, result.Failed),
		ProcessedCount:  len(result.Results),
		TotalDurationMs: result.Duration.Milliseconds(),
		Metrics:         api.BatchMetrics{Windows: result.Windows},
	}

	var total time.Duration
	for _, r := range result.Results {
		total += r.Duration

		if r.Succeeded() {
			res := api.OperationResult{
				OperationID:  r.OperationID,
				Status:       "applied",
				ProcessingMs: milliseconds(r.Duration),
			}
			if r.Entity != nil {
				entity := toAPIEntity(r.Entity)
				res.Entity = &entity
			}
			resp.Successful = append(resp.Successful, res)
			continue
		}

		op := submitted[r.OperationID]
		resp.Failed = append(resp.Failed, api.FailedOperation{
			OperationID: r.OperationID,
			Code:        string(engine.CodeOf(r.Err)),
			Error:       r.Err.Error(),
			EntityType:  op.EntityType,
			Type:        strings.ToUpper(op.Type),
		})
	}

	if resp.ProcessedCount > 0 {
		resp.SuccessRate = float64(len(resp.Successful)) / float64(resp.ProcessedCount)
		resp.Metrics.AvgOperationMs = milliseconds(total) / float64(resp.ProcessedCount)
	}

	return resp
}

func toAPIEntity(e *models.Entity) api.Entity {
	return api.Entity{
		ID:              e.ID,
		Type:            e.Type,
		DeviceID:        e.DeviceID,
		Data:            e.Data,
		Version:         e.Version,
		UpdatedAt:       e.UpdatedAt,
		ClientTimestamp: e.ClientTimestamp,
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
