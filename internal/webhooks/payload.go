// Package webhooks delivers registration notifications to
// organizer-configured URLs.
package webhooks

import "time"

// Event names carried in Payload.Event.
const (
	EventRegistrationCreated       = "registration.created"
	EventRegistrationDeleted       = "registration.deleted"
	EventRegistrationStatusChanged = "registration.status_changed"
)

type Participant struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Payload is the JSON body POSTed to a webhook. Field names are part of the
// public contract with receivers.
type Payload struct {
	Event          string         `json:"event"`
	MissionID      string         `json:"mission_id"`
	MissionTitle   string         `json:"mission_title"`
	Participant    Participant    `json:"participant"`
	Status         string         `json:"status"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	RegisteredAt   time.Time      `json:"registered_at"`
	Answers        map[string]any `json:"answers"`
}
