package trend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/cache"
	"github.com/kiranshivaraju/bugnest/internal/metrics"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
	"golang.org/x/sync/errgroup"
)

type Period string

const (
	Period24h Period = "24h"
	Period14d Period = "14d"
	PeriodAll Period = "all"
)

const (
	// MaxBuckets bounds custom windows.
	MaxBuckets = 24 * 92
	// MaxIssues bounds one IssueTrends call.
	MaxIssues = 100

	issueConcurrency = 8
)

// CountStore is the slice of the store the trend service reads from.
type CountStore interface {
	CountEventsByBucket(ctx context.Context, scope store.EventScope, start, end time.Time, unit store.BucketUnit) (map[time.Time]int64, error)
}

// Service serves issue and project trends, caching results briefly.
// A cache failure is logged and the trend is computed from the store.
type Service struct {
	counts CountStore
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
}

func NewService(counts CountStore, c cache.Cache, ttl time.Duration) *Service {
	return &Service{counts: counts, cache: c, ttl: ttl, now: time.Now}
}

// IssueTrends returns the preset trends of each issue, in ids order. An empty
// period means Period24h. With PeriodAll every issue contributes its 24h trend
// followed by its 14d trend.
// Issues outside apiKey's project yield all-zero trends.
func (s *Service) IssueTrends(ctx context.Context, apiKey string, ids []int64, period Period) ([]models.Trend, error) {
	v := &validation.Error{}
	if len(ids) == 0 {
		v.Add("ids", "at least one issue id is required")
	}
	if len(ids) > MaxIssues {
		v.Add("ids", "at most %d issue ids are allowed, got %d", MaxIssues, len(ids))
	}
	var periods []Period
	switch period {
	case Period24h, Period14d:
		periods = []Period{period}
	case "":
		periods = []Period{Period24h}
	case PeriodAll:
		periods = []Period{Period24h, Period14d}
	default:
		v.Add("period", "must be one of 24h, 14d, all; got %q", period)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	results := make([]models.Trend, len(ids)*len(periods))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(issueConcurrency)
	for i, id := range ids {
		for j, p := range periods {
			slot := i*len(periods) + j
			g.Go(func() error {
				t, err := s.issueTrend(gctx, apiKey, id, p, now)
				if err != nil {
					return err
				}
				results[slot] = *t
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) issueTrend(ctx context.Context, apiKey string, issueID int64, p Period, now time.Time) (*models.Trend, error) {
	w, g := Last24Hours(now), Hour
	if p == Period14d {
		w, g = Last14Days(now), Day
	}

	key := cache.IssueTrendKey(apiKey, issueID, string(p), w.Max.Unix())
	if t, ok := s.cached(ctx, key); ok {
		return t, nil
	}

	buckets, err := s.compute(ctx, store.EventScope{APIKey: apiKey, IssueID: issueID}, w, g)
	if err != nil {
		return nil, fmt.Errorf("trend for issue %d: %w", issueID, err)
	}
	t := &models.Trend{IssueID: issueID, Period: string(p), Granularity: string(g), Buckets: buckets}
	s.save(ctx, key, t)
	return t, nil
}

// ProjectTrend returns the trend of all a project's events between start and
// end at granularity g. Auto is hourly up to two days and daily beyond.
func (s *Service) ProjectTrend(ctx context.Context, apiKey string, start, end time.Time, g Granularity) (*models.Trend, error) {
	if !g.valid() {
		return nil, &UnknownGranularityError{Value: string(g)}
	}
	w := Window{Min: start.UTC(), Max: end.UTC()}
	if w.Min.After(w.Max) {
		return nil, &InvalidWindowError{Min: w.Min, Max: w.Max}
	}
	g = g.Resolve(w)
	if n := BucketCount(w, g); n > MaxBuckets {
		v := &validation.Error{}
		v.Add("end", "window spans %d %s buckets, at most %d are allowed", n, g, MaxBuckets)
		return nil, v
	}

	key := cache.ProjectTrendKey(apiKey, string(g), g.Truncate(w.Min).Unix(), g.Truncate(w.Max).Unix())
	if t, ok := s.cached(ctx, key); ok {
		return t, nil
	}

	buckets, err := s.compute(ctx, store.EventScope{APIKey: apiKey}, w, g)
	if err != nil {
		return nil, fmt.Errorf("project trend: %w", err)
	}
	t := &models.Trend{Granularity: string(g), Buckets: buckets}
	s.save(ctx, key, t)
	return t, nil
}

func (s *Service) compute(ctx context.Context, scope store.EventScope, w Window, g Granularity) ([]models.TrendBucket, error) {
	lo := g.Truncate(w.Min)
	hi := g.Truncate(w.Max).Add(g.step())
	counts, err := s.counts.CountEventsByBucket(ctx, scope, lo, hi, store.BucketUnit(g))
	if err != nil {
		return nil, err
	}
	return Compute(w, g, MapLookup(counts))
}

func (s *Service) cached(ctx context.Context, key string) (*models.Trend, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("trend cache read failed", "key", key, "error", err)
		return nil, false
	}
	metrics.RecordTrendCache(found)
	if !found {
		return nil, false
	}
	var t models.Trend
	if err := json.Unmarshal(data, &t); err != nil {
		slog.Warn("trend cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	return &t, true
}

func (s *Service) save(ctx context.Context, key string, t *models.Trend) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.Warn("trend cache write failed", "key", key, "error", err)
	}
}
