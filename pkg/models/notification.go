package models

import "time"

// Level is the severity a notification rule fires for.
type Level string

const (
	LevelSerious Level = "serious"
	LevelWarning Level = "warning"
	LevelDefault Level = "default"
)

// Valid reports whether l is one of the recognised levels.
func (l Level) Valid() bool {
	switch l {
	case LevelSerious, LevelWarning, LevelDefault:
		return true
	}
	return false
}

type MatchOp string

const (
	OpEquals   MatchOp = "eq"
	OpContains MatchOp = "contains"
	OpExists   MatchOp = "exists"
	OpIn       MatchOp = "in"
)

// FieldMatch tests one dotted path of the event (e.g. "device.platform").
type FieldMatch struct {
	Path   string   `json:"path"`
	Op     MatchOp  `json:"op"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// RuleData is the data predicate of a rule. Zero values disable a check.
type RuleData struct {
	MinEvents int          `json:"min_events,omitempty"`
	MinUsers  int          `json:"min_users,omitempty"`
	FieldsAll []FieldMatch `json:"fields_all,omitempty"`
}

// RuleListItem matches an issue when every non-empty field matches.
type RuleListItem struct {
	Type        string `json:"type,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Keyword     string `json:"keyword,omitempty"`
}

// NotificationRule is project-scoped alerting config. Interval is the silence
// period in seconds after the rule fires for an issue.
type NotificationRule struct {
	ID        int64          `db:"id"         json:"id"`
	ProjectID int64          `db:"project_id" json:"project_id"`
	Name      string         `db:"name"       json:"name"`
	Data      RuleData       `db:"data"       json:"data"`
	WhiteList []RuleListItem `db:"white_list" json:"white_list"`
	BlackList []RuleListItem `db:"black_list" json:"black_list"`
	Level     Level          `db:"level"      json:"level"`
	Interval  int64          `db:"interval_secs" json:"interval"`
	Open      bool           `db:"open"       json:"open"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// IntervalDuration returns the silence period as a time.Duration.
func (r NotificationRule) IntervalDuration() time.Duration {
	return time.Duration(r.Interval) * time.Second
}

type EmailTarget struct {
	Email string `json:"email"`
	Open  bool   `json:"open"`
}

type BrowserTarget struct {
	Open bool `json:"open"`
}

type WebhookTarget struct {
	Type string `json:"type"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Open bool   `json:"open"`
}

// NotificationSetting is the per-project channel configuration.
type NotificationSetting struct {
	ProjectID int64           `db:"project_id" json:"project_id"`
	Emails    []EmailTarget   `db:"emails"     json:"emails"`
	Browser   BrowserTarget   `db:"browser"    json:"browser"`
	Webhooks  []WebhookTarget `db:"webhooks"   json:"webhooks"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// DispatchNotice bundles everything the renderer and the sinks need for one
// matched rule. It has no lifecycle of its own.
type DispatchNotice struct {
	Setting NotificationSetting `json:"setting"`
	Rule    NotificationRule    `json:"rule"`
	Issue   Issue               `json:"issue"`
	Event   Event               `json:"event"`
}
