package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/api/response"
	"github.com/kiranshivaraju/bugnest/internal/trend"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// defaultProjectWindow is used when a project trend request omits start.
const defaultProjectWindow = 14 * 24 * time.Hour

type TrendService interface {
	IssueTrends(ctx context.Context, apiKey string, ids []int64, period trend.Period) ([]models.Trend, error)
	ProjectTrend(ctx context.Context, apiKey string, start, end time.Time, g trend.Granularity) (*models.Trend, error)
}

// NewIssueTrendsHandler returns an http.HandlerFunc for
// GET /api/v1/issues/trends?ids=1,2&period=24h|14d|all.
func NewIssueTrendsHandler(svc TrendService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}

		ids, err := parseIDs(r.URL.Query().Get("ids"))
		if err != nil {
			response.Invalid(w, err)
			return
		}

		trends, err := svc.IssueTrends(r.Context(), project.APIKey, ids, trend.Period(r.URL.Query().Get("period")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, trends)
	}
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			v := &validation.Error{}
			v.Add("ids", "%q is not a positive integer", part)
			return nil, v
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NewProjectTrendHandler returns an http.HandlerFunc for
// GET /api/v1/projects/trend?start=..&end=..&granularity=hour|day|auto
// (RFC3339). end defaults to now, start to 14 days before end and granularity
// to auto.
func NewProjectTrendHandler(svc TrendService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		v := &validation.Error{}
		end := time.Now().UTC()
		if s := q.Get("end"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				v.Add("end", "must be a valid RFC3339 timestamp")
			}
			end = t
		}
		start := end.Add(-defaultProjectWindow)
		if s := q.Get("start"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				v.Add("start", "must be a valid RFC3339 timestamp")
			}
			start = t
		}
		g, err := trend.ParseGranularity(q.Get("granularity"))
		if err != nil {
			v.Add("granularity", "must be one of hour, day, auto; got %q", q.Get("granularity"))
		}
		if err := v.Err(); err != nil {
			response.Invalid(w, err)
			return
		}

		t, err := svc.ProjectTrend(r.Context(), project.APIKey, start, end, g)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, t)
	}
}
