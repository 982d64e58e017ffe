package core

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies a security event. The set is closed; events with an
// unknown category are rejected at the API boundary.
type EventCategory string

const (
	CategoryAuthentication EventCategory = "authentication"
	CategoryAuthorization  EventCategory = "authorization"
	CategoryDataAccess     EventCategory = "data_access"
	CategoryConfiguration  EventCategory = "configuration"
	CategorySession        EventCategory = "session"
	CategorySystem         EventCategory = "system"
)

// IsValid reports whether the category is one of the known values.
func (c EventCategory) IsValid() bool {
	switch c {
	case CategoryAuthentication, CategoryAuthorization, CategoryDataAccess,
		CategoryConfiguration, CategorySession, CategorySystem:
		return true
	}
	return false
}

// SecurityEvent represents one observed security-relevant action, scoped to a
// tenant organization. Field names follow the snake_case storage contract.
type SecurityEvent struct {
	EventID           string                 `json:"event_id"`
	OrgID             string                 `json:"org_id"`
	UserID            string                 `json:"user_id,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	EventType         string                 `json:"event_type"`
	EventCategory     EventCategory          `json:"event_category"`
	RiskScore         int                    `json:"risk_score"`
	EventData         map[string]interface{} `json:"event_data,omitempty"`
	IPAddress         string                 `json:"ip_address,omitempty"`
	UserAgent         string                 `json:"user_agent,omitempty"`
	DeviceFingerprint string                 `json:"device_fingerprint,omitempty"`
	LocationData      map[string]interface{} `json:"location_data,omitempty"`
	DetectionRules    []string               `json:"detection_rules,omitempty"`
	FalsePositive     bool                   `json:"false_positive"`
	CreatedAt         time.Time              `json:"created_at"`
}

// NewSecurityEvent creates a SecurityEvent with a generated UUID and UTC timestamp.
func NewSecurityEvent() *SecurityEvent {
	return &SecurityEvent{
		EventID:   uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		EventData: make(map[string]interface{}),
	}
}
