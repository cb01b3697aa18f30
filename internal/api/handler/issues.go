package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/api/response"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// IssueService answers issue queries scoped to a project API key.
type IssueService interface {
	GetIssue(ctx context.Context, apiKey string, id int64) (*models.Issue, error)
	SearchIssues(ctx context.Context, filter store.IssueFilter) ([]*models.Issue, int, error)
	GetLatestEvent(ctx context.Context, apiKey string, issueID int64) (*models.Event, error)
	DeleteIssue(ctx context.Context, apiKey string, id int64) error
}

// NewListIssuesHandler returns an http.HandlerFunc for GET /api/v1/issues.
func NewListIssuesHandler(svc IssueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}

		filter, err := parseIssueFilter(r)
		if err != nil {
			response.Invalid(w, err)
			return
		}
		filter.APIKey = project.APIKey

		issues, total, err := svc.SearchIssues(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if issues == nil {
			issues = []*models.Issue{}
		}

		response.Collection(w, issues, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

func parseIssueFilter(r *http.Request) (store.IssueFilter, error) {
	q := r.URL.Query()
	v := &validation.Error{}
	f := store.IssueFilter{Type: q.Get("type"), Page: 1, Limit: defaultPageLimit}

	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			v.Add("page", "must be a positive integer")
		} else {
			f.Page = n
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageLimit {
			v.Add("limit", "must be between 1 and %d", maxPageLimit)
		} else {
			f.Limit = n
		}
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			v.Add("since", "must be a valid RFC3339 timestamp")
		}
		f.Since = t
	}
	if s := q.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			v.Add("until", "must be a valid RFC3339 timestamp")
		}
		f.Until = t
	}
	return f, v.Err()
}

// NewGetIssueHandler returns an http.HandlerFunc for GET /api/v1/issues/{issueID}.
func NewGetIssueHandler(svc IssueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "issueID")
		if !ok {
			return
		}

		issue, err := svc.GetIssue(r.Context(), project.APIKey, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, issue)
	}
}

// NewLatestEventHandler returns an http.HandlerFunc for
// GET /api/v1/issues/{issueID}/events/latest.
func NewLatestEventHandler(svc IssueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "issueID")
		if !ok {
			return
		}

		event, err := svc.GetLatestEvent(r.Context(), project.APIKey, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, event)
	}
}

// NewDeleteIssueHandler returns an http.HandlerFunc for DELETE /api/v1/issues/{issueID}.
func NewDeleteIssueHandler(svc IssueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "issueID")
		if !ok {
			return
		}

		if err := svc.DeleteIssue(r.Context(), project.APIKey, id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
