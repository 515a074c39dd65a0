// Package events defines the messages pushed on the live license event feed.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeLicenseIngested  MessageType = "license.ingested"
	MessageTypeLicenseActivated MessageType = "license.activated"

	// Connection messages
	MessageTypeConnect MessageType = "connect"
	MessageTypeError   MessageType = "error"
)

// WebSocketMessage is the envelope for every message on the feed.
type WebSocketMessage struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// LicenseEvent describes a change to a license. Keys are never sent in
// clear: MaskedKey is for display, Fingerprint for correlation.
type LicenseEvent struct {
	MaskedKey        string    `json:"license_key"`
	Fingerprint      string    `json:"fingerprint"`
	Tier             string    `json:"tier"`
	MaxScreens       int       `json:"max_screens"`
	Operation        string    `json:"operation,omitempty"`
	Replay           bool      `json:"replay,omitempty"`
	AlreadyActivated bool      `json:"already_activated,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewLicenseMessage wraps ev in an envelope of type t.
func NewLicenseMessage(t MessageType, traceID string, ev LicenseEvent) WebSocketMessage {
	return WebSocketMessage{
		Type:      t,
		Timestamp: ev.OccurredAt,
		TraceID:   traceID,
		Data:      ev,
	}
}
