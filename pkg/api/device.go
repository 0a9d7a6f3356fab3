package api

import "time"

// Device зарегистрированное устройство пользователя
type Device struct {
	LastSeen time.Time `json:"lastSeen"`
	DeviceID string    `json:"deviceId"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Priority int       `json:"priority"`
}

// DeviceListResponse ответ GET /api/v1/devices
type DeviceListResponse struct {
	Devices []Device `json:"devices"`
}

// UpdateDeviceRequest запрос PUT /api/v1/devices/{id}. Пустые поля не меняются
type UpdateDeviceRequest struct {
	Priority *int   `json:"priority,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
}
