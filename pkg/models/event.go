package models

import (
	"time"

	"github.com/google/uuid"
)

// Device describes the client environment an event was captured in.
type Device struct {
	Platform  string `json:"platform"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Language  string `json:"language,omitempty"`
	Version   string `json:"version,omitempty"`
}

// EventDetail is the free-form error payload reported by the client.
type EventDetail struct {
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
	Stack    string `json:"stack,omitempty"`
	Others   string `json:"others,omitempty"`
}

// Event is one reported occurrence. Events are immutable once stored and are
// owned by the event store; an issue only references them by IssueID.
type Event struct {
	ID         uuid.UUID   `db:"id"          json:"id"`
	APIKey     string      `db:"api_key"     json:"api_key"`
	IssueID    int64       `db:"issue_id"    json:"issue_id"`
	Type       string      `db:"type"        json:"type"`
	Severity   Level       `db:"severity"    json:"severity"`
	Device     Device      `db:"device"      json:"device"`
	User       string      `db:"user_id"     json:"user,omitempty"`
	Detail     EventDetail `db:"detail"      json:"detail"`
	Timestamp  time.Time   `db:"occurred_at" json:"timestamp"`
	ReceivedAt time.Time   `db:"received_at" json:"received_at"`

	// Previous is only populated when the latest event of an issue is requested.
	Previous *Event `db:"-" json:"previous,omitempty"`
}
