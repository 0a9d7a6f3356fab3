package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/tripsync/internal/engine"
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
	"github.com/iudanet/tripsync/pkg/api"
)

// ConflictService журнал конфликтов
type ConflictService interface {
	List(ctx context.Context, ownerID string, status models.ConflictStatus) ([]*models.ConflictRecord, error)
	ResolveManually(ctx context.Context, ownerID, id, resolution string) (*models.ConflictRecord, error)
}

// ConflictHandler handles conflict audit requests
type ConflictHandler struct {
	logger    *slog.Logger
	conflicts ConflictService
}

// NewConflictHandler creates a new conflict handler
func NewConflictHandler(logger *slog.Logger, conflicts ConflictService) *ConflictHandler {
	return &ConflictHandler{
		logger:    logger,
		conflicts: conflicts,
	}
}

// List обрабатывает GET /api/v1/conflicts?status=pending|resolved
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	status := models.ConflictStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ConflictPending, models.ConflictResolved:
	default:
		writeError(w, h.logger, http.StatusBadRequest, "status must be pending or resolved", string(engine.CodeValidation))
		return
	}

	records, err := h.conflicts.List(r.Context(), userID, status)
	if err != nil {
		h.logger.Error("Failed to list conflicts", "error", err, "user_id", userID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", string(engine.CodeStorage))
		return
	}

	resp := api.ConflictListResponse{Conflicts: make([]api.ConflictRecord, 0, len(records))}
	for _, record := range records {
		resp.Conflicts = append(resp.Conflicts, toAPIConflict(record))
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Resolve обрабатывает POST /api/v1/conflicts/{id}/resolve
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	id := r.PathValue("id")

	var req api.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", string(engine.CodeValidation))
		return
	}

	if req.Resolution != models.ResolutionLocalWins && req.Resolution != models.ResolutionRemoteWins {
		writeError(w, h.logger, http.StatusBadRequest, "resolution must be local_wins or remote_wins", string(engine.CodeValidation))
		return
	}

	record, err := h.conflicts.ResolveManually(r.Context(), userID, id, req.Resolution)
	switch {
	case errors.Is(err, storage.ErrConflictNotFound):
		writeError(w, h.logger, http.StatusNotFound, "conflict not found", string(engine.CodeNotFound))
		return
	case errors.Is(err, storage.ErrConflictAlreadyResolved):
		writeError(w, h.logger, http.StatusConflict, "conflict already resolved", "")
		return
	case err != nil:
		h.logger.Error("Failed to resolve conflict", "error", err, "conflict_id", id)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", string(engine.CodeStorage))
		return
	}

	h.logger.Info("Conflict resolved manually", "user_id", userID, "conflict_id", id, "resolution", req.Resolution)

	writeJSON(w, h.logger, http.StatusOK, toAPIConflict(record))
}

func toAPIConflict(record *models.ConflictRecord) api.ConflictRecord {
	return api.ConflictRecord{
		ID:            record.ID,
		EntityType:    record.EntityType,
		EntityID:      record.EntityID,
		DeviceID:      record.DeviceID,
		Strategy:      string(record.Strategy),
		Status:        string(record.Status),
		LocalVersion:  record.LocalVersion,
		RemoteVersion: record.RemoteVersion,
		DetectedAt:    record.DetectedAt,
		ResolvedAt:    record.ResolvedAt,
		Resolution:    record.Resolution,
	}
}
