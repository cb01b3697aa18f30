package issue

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// QueryStore is the slice of the store used by issue queries.
type QueryStore interface {
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, filter store.IssueFilter) ([]*models.Issue, int, error)
	DeleteIssue(ctx context.Context, id int64) error
	GetLatestEvents(ctx context.Context, issueID int64, limit int) ([]*models.Event, error)
}

// Service answers read and administrative requests about issues. Every
// lookup is scoped to a project API key so one project cannot see another's
// issues.
type Service struct {
	store QueryStore
}

func NewService(s QueryStore) *Service {
	return &Service{store: s}
}

// GetIssue returns store.ErrNotFound when the issue does not exist or belongs
// to another project.
func (s *Service) GetIssue(ctx context.Context, apiKey string, id int64) (*models.Issue, error) {
	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.APIKey != apiKey {
		return nil, store.ErrNotFound
	}
	return issue, nil
}

// SearchIssues lists a project's issues, newest first.
func (s *Service) SearchIssues(ctx context.Context, filter store.IssueFilter) ([]*models.Issue, int, error) {
	if filter.APIKey == "" {
		return nil, 0, fmt.Errorf("search issues: api key is required")
	}
	return s.store.ListIssues(ctx, filter)
}

// GetLatestEvent returns the most recent event of an issue with the one
// before it attached as Previous.
func (s *Service) GetLatestEvent(ctx context.Context, apiKey string, issueID int64) (*models.Event, error) {
	if _, err := s.GetIssue(ctx, apiKey, issueID); err != nil {
		return nil, err
	}
	events, err := s.store.GetLatestEvents(ctx, issueID, 2)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, store.ErrNotFound
	}
	latest := events[0]
	if len(events) > 1 {
		latest.Previous = events[1]
	}
	return latest, nil
}

func (s *Service) DeleteIssue(ctx context.Context, apiKey string, id int64) error {
	if _, err := s.GetIssue(ctx, apiKey, id); err != nil {
		return err
	}
	return s.store.DeleteIssue(ctx, id)
}
