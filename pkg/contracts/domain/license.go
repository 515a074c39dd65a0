// Package domain contains the wire types shared by the HTTP handlers, the
// service layer and clients of the license service.
package domain

import (
	"time"
)

// IngestResponse is the webhook envelope. The webhook always answers 200;
// Success tells the storefront whether the notification was stored.
type IngestResponse struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message,omitempty"`
	LicenseKey     string    `json:"license_key,omitempty"` // masked
	LicenseType    string    `json:"license_type,omitempty"`
	Tier           string    `json:"tier,omitempty"`
	MaxScreens     int       `json:"max_screens,omitempty"`
	Operation      string    `json:"operation,omitempty"`
	Replay         bool      `json:"replay,omitempty"`
	Error          string    `json:"error,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	ReceivedFields []string  `json:"received_fields,omitempty"`
	TraceID        string    `json:"trace_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ActivationRequest binds a license key to a user.
type ActivationRequest struct {
	UserID     string `json:"user_id" validate:"required,max=256"`
	LicenseKey string `json:"license_key" validate:"required,max=256"`
}

// ActivationResponse reports a successful activation.
type ActivationResponse struct {
	Success          bool      `json:"success"`
	LicenseKey       string    `json:"license_key"` // masked
	Tier             string    `json:"tier"`
	MaxScreens       int       `json:"max_screens"`
	AlreadyActivated bool      `json:"already_activated"`
	ActivatedAt      time.Time `json:"activated_at"`
	TraceID          string    `json:"trace_id,omitempty"`
}

// EntitlementResponse answers "what may this user use right now".
type EntitlementResponse struct {
	UserID     string `json:"user_id"`
	Valid      bool   `json:"valid"`
	MaxScreens int    `json:"max_screens"`
	Tier       string `json:"tier,omitempty"`
	Licenses   int    `json:"licenses"`
	TraceID    string `json:"trace_id,omitempty"`
}

// WebhookStatus is returned by GET on the webhook path.
type WebhookStatus struct {
	Message   string    `json:"message"`
	Endpoint  string    `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
}
