package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByAPIKey(ctx context.Context, apiKey string) (*models.Project, error)
	CreateProject(ctx context.Context, project *models.Project) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, projectID int64) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, projectID int64) error

	FindIssueByFingerprint(ctx context.Context, apiKey, fingerprint string) (*models.Issue, error)
	SaveIssue(ctx context.Context, issue *models.Issue, event *models.Event) (*models.Issue, error)
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, int, error)
	DeleteIssue(ctx context.Context, id int64) error
	GetLatestEvents(ctx context.Context, issueID int64, limit int) ([]*models.Event, error)

	CountEventsByBucket(ctx context.Context, scope EventScope, start, end time.Time, unit BucketUnit) (map[time.Time]int64, error)
	CountEventsInWindow(ctx context.Context, scope EventScope, start, end time.Time) (int64, error)

	ListRules(ctx context.Context, projectID int64) ([]*models.NotificationRule, error)
	GetRule(ctx context.Context, id, projectID int64) (*models.NotificationRule, error)
	CreateRule(ctx context.Context, rule *models.NotificationRule) error
	UpdateRule(ctx context.Context, rule *models.NotificationRule) error
	DeleteRule(ctx context.Context, id, projectID int64) error

	GetSetting(ctx context.Context, projectID int64) (*models.NotificationSetting, error)
	UpsertSetting(ctx context.Context, setting *models.NotificationSetting) error

	TryFireSilence(ctx context.Context, ruleID, issueID int64, interval time.Duration, now time.Time) (bool, error)
}

type IssueFilter struct {
	APIKey string
	Type   string
	Since  time.Time
	Until  time.Time
	Page   int
	Limit  int
}

// EventScope selects the events a count runs over. When both fields are set
// an event must match both.
type EventScope struct {
	APIKey  string
	IssueID int64
}

// BucketUnit is a date_trunc field name.
type BucketUnit string

const (
	BucketHour BucketUnit = "hour"
	BucketDay  BucketUnit = "day"
)
