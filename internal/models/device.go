package models

import "time"

// DeviceRecord метаданные клиентского устройства.
// Используется только как входные данные для разрешения конфликтов, никогда как блокировка.
type DeviceRecord struct {
	LastSeen time.Time `json:"last_seen"`
	DeviceID string    `json:"device_id"`
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"` // Type например "ios", "android", "web"
	Priority int       `json:"priority"`
}
