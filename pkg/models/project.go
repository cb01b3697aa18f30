// Package models contains shared data models used across the bugnest codebase.
package models

import "time"

// Project owns events, issues and notification config. Client SDKs identify
// the project by its APIKey.
type Project struct {
	ID        int64     `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	APIKey    string    `db:"api_key"    json:"api_key"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
