package models

import "time"

// IssueMetadata is the summary snapshot taken from the first event of an issue.
type IssueMetadata struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
	Others   string `json:"others,omitempty"`
}

// Issue is the deduplicated aggregate of all events sharing a fingerprint
// within a project.
type Issue struct {
	ID          int64         `db:"id"           json:"id"`
	APIKey      string        `db:"api_key"      json:"api_key"`
	Type        string        `db:"type"         json:"type"`
	Fingerprint string        `db:"fingerprint"  json:"fingerprint"`
	Metadata    IssueMetadata `db:"metadata"     json:"metadata"`
	Users       []string      `db:"users"        json:"users"`
	UsersCount  int           `db:"users_count"  json:"users_count"`
	EventsCount int           `db:"events_count" json:"events_count"`
	CreatedAt   time.Time     `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"   json:"updated_at"`
}
