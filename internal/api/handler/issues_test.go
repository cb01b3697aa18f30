package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/api/handler"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/trend"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock issue service ---

type mockIssues struct {
	issues  map[int64]*models.Issue
	filter  store.IssueFilter
	deleted []int64
	err     error
}

func newMockIssues() *mockIssues {
	return &mockIssues{issues: map[int64]*models.Issue{
		7: {ID: 7, APIKey: "proj-key", Type: "uncaughtError", EventsCount: 3},
		8: {ID: 8, APIKey: "other-key", Type: "ajaxError"},
	}}
}

func (m *mockIssues) GetIssue(_ context.Context, apiKey string, id int64) (*models.Issue, error) {
	i, ok := m.issues[id]
	if !ok || i.APIKey != apiKey {
		return nil, store.ErrNotFound
	}
	return i, nil
}

func (m *mockIssues) SearchIssues(_ context.Context, f store.IssueFilter) ([]*models.Issue, int, error) {
	m.filter = f
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []*models.Issue
	for _, i := range m.issues {
		if i.APIKey == f.APIKey {
			out = append(out, i)
		}
	}
	return out, 45, nil
}

func (m *mockIssues) GetLatestEvent(ctx context.Context, apiKey string, issueID int64) (*models.Event, error) {
	if _, err := m.GetIssue(ctx, apiKey, issueID); err != nil {
		return nil, err
	}
	return &models.Event{IssueID: issueID, Type: "uncaughtError", Previous: &models.Event{IssueID: issueID}}, nil
}

func (m *mockIssues) DeleteIssue(ctx context.Context, apiKey string, id int64) error {
	if _, err := m.GetIssue(ctx, apiKey, id); err != nil {
		return err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

// --- issues ---

func TestListIssues_ScopedAndPaged(t *testing.T) {
	svc := newMockIssues()
	h := handler.NewListIssuesHandler(svc)

	w := serve(t, http.MethodGet, "/issues", "/issues?type=uncaughtError&page=2&limit=10&since=2024-01-01T00:00:00Z", "", h)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "proj-key", svc.filter.APIKey)
	assert.Equal(t, "uncaughtError", svc.filter.Type)
	assert.Equal(t, 2, svc.filter.Page)
	assert.Equal(t, 10, svc.filter.Limit)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), svc.filter.Since)

	var env struct {
		Data []models.Issue `json:"data"`
		Meta struct {
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Len(t, env.Data, 1)
	assert.Equal(t, 45, env.Meta.Total)
	assert.True(t, env.Meta.HasNext)
}

func TestListIssues_Defaults(t *testing.T) {
	svc := newMockIssues()
	w := serve(t, http.MethodGet, "/issues", "/issues", "", handler.NewListIssuesHandler(svc))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.filter.Page)
	assert.Equal(t, 20, svc.filter.Limit)
}

func TestListIssues_InvalidQuery(t *testing.T) {
	svc := newMockIssues()
	w := serve(t, http.MethodGet, "/issues", "/issues?page=0&limit=500&until=yesterday", "", handler.NewListIssuesHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := errorOf(t, w)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Len(t, e.Details, 3)
}

func TestListIssues_StoreError(t *testing.T) {
	svc := newMockIssues()
	svc.err = errors.New("db down")
	w := serve(t, http.MethodGet, "/issues", "/issues", "", handler.NewListIssuesHandler(svc))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetIssue(t *testing.T) {
	h := handler.NewGetIssueHandler(newMockIssues())

	w := serve(t, http.MethodGet, "/issues/{issueID}", "/issues/7", "", h)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Issue
	dataOf(t, w, &got)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, 3, got.EventsCount)

	// Another project's issue is indistinguishable from a missing one.
	w = serve(t, http.MethodGet, "/issues/{issueID}", "/issues/8", "", h)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, http.MethodGet, "/issues/{issueID}", "/issues/abc", "", h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatestEvent(t *testing.T) {
	h := handler.NewLatestEventHandler(newMockIssues())

	w := serve(t, http.MethodGet, "/issues/{issueID}/events/latest", "/issues/7/events/latest", "", h)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.Event
	dataOf(t, w, &got)
	assert.Equal(t, int64(7), got.IssueID)
	require.NotNil(t, got.Previous)
}

func TestDeleteIssue(t *testing.T) {
	svc := newMockIssues()
	h := handler.NewDeleteIssueHandler(svc)

	w := serve(t, http.MethodDelete, "/issues/{issueID}", "/issues/7", "", h)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []int64{7}, svc.deleted)

	w = serve(t, http.MethodDelete, "/issues/{issueID}", "/issues/8", "", h)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []int64{7}, svc.deleted)
}

// --- trends ---

type mockTrends struct {
	apiKey     string
	ids        []int64
	period     trend.Period
	start, end time.Time
	gran       trend.Granularity
	err        error
}

func (m *mockTrends) IssueTrends(_ context.Context, apiKey string, ids []int64, p trend.Period) ([]models.Trend, error) {
	m.apiKey, m.ids, m.period = apiKey, ids, p
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.Trend, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Trend{IssueID: id, Period: string(p), Granularity: "hour"})
	}
	return out, nil
}

func (m *mockTrends) ProjectTrend(_ context.Context, apiKey string, start, end time.Time, g trend.Granularity) (*models.Trend, error) {
	m.apiKey, m.start, m.end, m.gran = apiKey, start, end, g
	if m.err != nil {
		return nil, m.err
	}
	return &models.Trend{Granularity: string(g)}, nil
}

func TestIssueTrends(t *testing.T) {
	svc := &mockTrends{}
	h := handler.NewIssueTrendsHandler(svc)

	w := serve(t, http.MethodGet, "/issues/trends", "/issues/trends?ids=3,%201,2&period=24h", "", h)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "proj-key", svc.apiKey)
	assert.Equal(t, []int64{3, 1, 2}, svc.ids)
	assert.Equal(t, trend.Period24h, svc.period)
	var got []models.Trend
	dataOf(t, w, &got)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].IssueID)
}

func TestIssueTrends_BadIDs(t *testing.T) {
	svc := &mockTrends{}
	w := serve(t, http.MethodGet, "/issues/trends", "/issues/trends?ids=1,x", "", handler.NewIssueTrendsHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.ids)
}

func TestIssueTrends_ServiceValidation(t *testing.T) {
	v := &validation.Error{}
	v.Add("period", "must be one of 24h, 14d, all")
	svc := &mockTrends{err: v}

	w := serve(t, http.MethodGet, "/issues/trends", "/issues/trends?ids=1&period=7d", "", handler.NewIssueTrendsHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorOf(t, w).Code)
}

func TestProjectTrend(t *testing.T) {
	svc := &mockTrends{}
	h := handler.NewProjectTrendHandler(svc)

	w := serve(t, http.MethodGet, "/projects/trend", "/projects/trend?start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z", "", h)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), svc.start)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), svc.end)
	assert.Equal(t, trend.Auto, svc.gran)
}

func TestProjectTrend_ExplicitGranularity(t *testing.T) {
	for _, g := range []trend.Granularity{trend.Hour, trend.Day} {
		t.Run(string(g), func(t *testing.T) {
			svc := &mockTrends{}
			target := "/projects/trend?start=2024-01-01T00:00:00Z&end=2024-01-05T00:00:00Z&granularity=" + string(g)
			w := serve(t, http.MethodGet, "/projects/trend", target, "", handler.NewProjectTrendHandler(svc))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, g, svc.gran)
			var got models.Trend
			dataOf(t, w, &got)
			assert.Equal(t, string(g), got.Granularity)
		})
	}
}

func TestProjectTrend_BadGranularity(t *testing.T) {
	svc := &mockTrends{}
	w := serve(t, http.MethodGet, "/projects/trend", "/projects/trend?granularity=week", "", handler.NewProjectTrendHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := errorOf(t, w)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Len(t, e.Details, 1)
	assert.Empty(t, svc.apiKey)
}

func TestProjectTrend_UnknownGranularityFromService(t *testing.T) {
	svc := &mockTrends{err: &trend.UnknownGranularityError{Value: "week"}}
	w := serve(t, http.MethodGet, "/projects/trend", "/projects/trend", "", handler.NewProjectTrendHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProjectTrend_DefaultWindow(t *testing.T) {
	svc := &mockTrends{}
	w := serve(t, http.MethodGet, "/projects/trend", "/projects/trend?end=2024-01-15T00:00:00Z", "", handler.NewProjectTrendHandler(svc))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), svc.start)
}

func TestProjectTrend_InvalidWindow(t *testing.T) {
	svc := &mockTrends{err: &trend.InvalidWindowError{Min: time.Unix(10, 0), Max: time.Unix(0, 0)}}
	w := serve(t, http.MethodGet, "/projects/trend", "/projects/trend?start=2024-01-02T00:00:00Z&end=2024-01-01T00:00:00Z", "", handler.NewProjectTrendHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProjectTrend_BadTimestamp(t *testing.T) {
	svc := &mockTrends{}
	w := serve(t, http.MethodGet, "/projects/trend", "/projects/trend?start=monday", "", handler.NewProjectTrendHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.apiKey)
}
