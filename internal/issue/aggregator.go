package issue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/cache"
	"github.com/kiranshivaraju/bugnest/internal/metrics"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// MaxUsers caps the distinct user identifiers kept on an issue. Past the cap
// UsersCount keeps growing by one per event and becomes approximate.
const MaxUsers = 1000

// Repository is the slice of the store the aggregator needs.
type Repository interface {
	FindIssueByFingerprint(ctx context.Context, apiKey, fingerprint string) (*models.Issue, error)
	SaveIssue(ctx context.Context, issue *models.Issue, event *models.Event) (*models.Issue, error)
}

// Aggregator folds events into issues. Read-modify-write of one issue runs
// under a lock on (apiKey, fingerprint); distinct fingerprints never contend.
type Aggregator struct {
	repo    Repository
	locker  Locker
	lockTTL time.Duration
}

func NewAggregator(repo Repository, locker Locker, lockTTL time.Duration) *Aggregator {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Aggregator{repo: repo, locker: locker, lockTTL: lockTTL}
}

// UpsertIssue creates the issue for fingerprint or updates its counters, and
// persists it together with the event. The event gets its IssueID set.
func (a *Aggregator) UpsertIssue(ctx context.Context, event *models.Event, fingerprint string, metadata models.IssueMetadata) (*models.Issue, error) {
	start := time.Now()
	defer func() { metrics.ObserveAggregation(time.Since(start)) }()

	fail := func(err error) (*models.Issue, error) {
		return nil, &AggregationError{APIKey: event.APIKey, Fingerprint: fingerprint, Err: err}
	}

	unlock, err := a.locker.Lock(ctx, cache.IssueLockKey(event.APIKey, fingerprint), a.lockTTL)
	if err != nil {
		return fail(err)
	}
	defer unlock()

	current, err := a.repo.FindIssueByFingerprint(ctx, event.APIKey, fingerprint)
	var next *models.Issue
	switch {
	case errors.Is(err, store.ErrNotFound):
		next = newIssue(event, fingerprint, metadata)
	case err != nil:
		return fail(err)
	default:
		next = applyEvent(current, event)
	}

	saved, err := a.repo.SaveIssue(ctx, next, event)
	if err != nil {
		return fail(err)
	}

	if next.ID == 0 {
		metrics.RecordIssueCreated()
		slog.Info("issue created",
			"issue_id", saved.ID,
			"api_key", saved.APIKey,
			"type", saved.Type,
		)
	}
	return saved, nil
}

func newIssue(event *models.Event, fingerprint string, metadata models.IssueMetadata) *models.Issue {
	users := []string{}
	if event.User != "" {
		users = append(users, event.User)
	}
	return &models.Issue{
		APIKey:      event.APIKey,
		Type:        event.Type,
		Fingerprint: fingerprint,
		Metadata:    metadata,
		Users:       users,
		UsersCount:  len(users),
		EventsCount: 1,
		CreatedAt:   event.Timestamp,
		UpdatedAt:   event.Timestamp,
	}
}

// applyEvent returns a copy of issue with event counted. The input is not
// modified.
func applyEvent(issue *models.Issue, event *models.Event) *models.Issue {
	next := *issue
	next.Users = slices.Clone(issue.Users)
	next.EventsCount++

	if len(next.Users) < MaxUsers {
		if event.User != "" && !slices.Contains(next.Users, event.User) {
			next.Users = append(next.Users, event.User)
		}
		next.UsersCount = len(next.Users)
	} else {
		next.UsersCount++
	}

	if event.Timestamp.After(next.UpdatedAt) {
		next.UpdatedAt = event.Timestamp
	}
	return &next
}
