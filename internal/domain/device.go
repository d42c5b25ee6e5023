package domain

import "time"

// UserDevice is one registered device of a user. The push token is opaque to
// this server; it is handed verbatim to the push collaborator. Devices are
// retired by flipping Active, never hard-deleted.
type UserDevice struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	PushToken  string    `json:"push_token"`
	Platform   string    `json:"platform"`
	Name       string    `json:"name,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	Active     bool      `json:"active"`
}

type RegisterDeviceRequest struct {
	PushToken string `json:"push_token" validate:"required"`
	Platform  string `json:"platform" validate:"required,oneof=android ios desktop web"`
	Name      string `json:"name" validate:"max=100"`
}

type DeviceResponse struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	Name       string    `json:"name,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Active     bool      `json:"active"`
}
