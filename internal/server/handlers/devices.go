package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/tripsync/internal/device"
	"github.com/iudanet/tripsync/internal/engine"
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
	"github.com/iudanet/tripsync/internal/validation"
	"github.com/iudanet/tripsync/pkg/api"
)

// DeviceService реестр устройств
type DeviceService interface {
	Touch(ctx context.Context, userID string, info device.Info) error
	Get(ctx context.Context, userID, deviceID string) (*models.DeviceRecord, error)
	List(ctx context.Context, userID string) ([]*models.DeviceRecord, error)
}

// DeviceHandler handles device registry requests
type DeviceHandler struct {
	logger  *slog.Logger
	devices DeviceService
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(logger *slog.Logger, devices DeviceService) *DeviceHandler {
	return &DeviceHandler{
		logger:  logger,
		devices: devices,
	}
}

// List обрабатывает GET /api/v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	records, err := h.devices.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list devices", "error", err, "user_id", userID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", string(engine.CodeStorage))
		return
	}

	resp := api.DeviceListResponse{Devices: make([]api.Device, 0, len(records))}
	for _, record := range records {
		resp.Devices = append(resp.Devices, toAPIDevice(record))
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Update обрабатывает PUT /api/v1/devices/{id}: имя, тип и приоритет устройства
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	deviceID := r.PathValue("id")
	if err := validation.ValidateIdentifier("device id", deviceID); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error(), string(engine.CodeValidation))
		return
	}

	var req api.UpdateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", string(engine.CodeValidation))
		return
	}

	info := device.Info{
		DeviceID: deviceID,
		Name:     req.Name,
		Type:     req.Type,
		Priority: req.Priority,
	}
	if err := h.devices.Touch(r.Context(), userID, info); err != nil {
		h.logger.Error("Failed to update device", "error", err, "device_id", deviceID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", string(engine.CodeStorage))
		return
	}

	record, err := h.devices.Get(r.Context(), userID, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "device not found", string(engine.CodeNotFound))
			return
		}
		h.logger.Error("Failed to get device", "error", err, "device_id", deviceID)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", string(engine.CodeStorage))
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toAPIDevice(record))
}

func toAPIDevice(record *models.DeviceRecord) api.Device {
	return api.Device{
		DeviceID: record.DeviceID,
		Name:     record.Name,
		Type:     record.Type,
		Priority: record.Priority,
		LastSeen: record.LastSeen,
	}
}
