// Package pipeline turns an ingested event into an aggregated issue and the
// notifications it triggers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/bugnest/internal/config"
	"github.com/kiranshivaraju/bugnest/internal/dispatch"
	"github.com/kiranshivaraju/bugnest/internal/issue"
	"github.com/kiranshivaraju/bugnest/internal/metrics"
	"github.com/kiranshivaraju/bugnest/internal/notify"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// ErrUnknownProject is returned for events whose api key matches no project.
var ErrUnknownProject = errors.New("unknown project api key")

const (
	maxTypeLength    = 100
	maxMessageLength = 10000
	maxStackLength   = 64 << 10
	maxUserLength    = 255
)

// maxClockSkew bounds how far in the future a client timestamp may be.
const maxClockSkew = 24 * time.Hour

type ProjectLookup interface {
	GetProjectByAPIKey(ctx context.Context, apiKey string) (*models.Project, error)
}

type Aggregator interface {
	UpsertIssue(ctx context.Context, event *models.Event, fingerprint string, metadata models.IssueMetadata) (*models.Issue, error)
}

// RuleSource provides the notification config of a project.
type RuleSource interface {
	ListOpenRules(ctx context.Context, projectID int64) ([]*models.NotificationRule, error)
	GetSetting(ctx context.Context, projectID int64) (*models.NotificationSetting, error)
}

type RuleMatcher interface {
	SelectMatchingRules(ctx context.Context, issue *models.Issue, event *models.Event, rules []*models.NotificationRule) (notify.MatchResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n models.DispatchNotice) []*dispatch.DispatchError
}

// Ingested is a committed event and the issue it was aggregated into.
type Ingested struct {
	ProjectID int64
	Event     *models.Event
	Issue     *models.Issue
}

// NotifyResult summarises the notification stage of one event.
type NotifyResult struct {
	Matched []*models.NotificationRule
	Skipped []*notify.ConfigurationError
	Failed  []*dispatch.DispatchError
}

type Processor struct {
	projects   ProjectLookup
	aggregator Aggregator
	severity   *issue.SeverityPolicy
	rules      RuleSource
	matcher    RuleMatcher
	dispatcher Dispatcher
	cfg        config.PipelineConfig
	now        func() time.Time
}

func NewProcessor(
	projects ProjectLookup,
	aggregator Aggregator,
	severity *issue.SeverityPolicy,
	rules RuleSource,
	matcher RuleMatcher,
	dispatcher Dispatcher,
	cfg config.PipelineConfig,
) *Processor {
	return &Processor{
		projects:   projects,
		aggregator: aggregator,
		severity:   severity,
		rules:      rules,
		matcher:    matcher,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Process ingests event and then runs its notification stage. A failure in
// the notification stage is logged and never undoes the ingest.
func (p *Processor) Process(ctx context.Context, event *models.Event) (*Ingested, error) {
	in, err := p.Ingest(ctx, event)
	if err != nil {
		return nil, err
	}
	if _, err := p.Notify(ctx, in); err != nil {
		slog.Error("notification stage failed", "issue_id", in.Issue.ID, "error", err)
	}
	return in, nil
}

// Ingest validates event, assigns its severity and aggregates it into an
// issue within the aggregation timeout. On success the issue is committed.
func (p *Processor) Ingest(ctx context.Context, event *models.Event) (*Ingested, error) {
	if err := ValidateEvent(event, p.now()); err != nil {
		metrics.RecordEventIngested("invalid")
		return nil, err
	}

	project, err := p.projects.GetProjectByAPIKey(ctx, event.APIKey)
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordEventIngested("unknown_project")
		return nil, ErrUnknownProject
	}
	if err != nil {
		metrics.RecordEventIngested("error")
		return nil, fmt.Errorf("looking up project: %w", err)
	}

	now := p.now().UTC()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.ReceivedAt = now
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	event.Timestamp = event.Timestamp.UTC()
	event.Severity = p.severity.Assign(event.Type)

	fp := issue.Fingerprint(event)
	meta := issue.MetadataFromEvent(event)

	aggCtx, cancel := context.WithTimeout(ctx, p.cfg.AggregateTimeout)
	defer cancel()
	iss, err := p.aggregator.UpsertIssue(aggCtx, event, fp, meta)
	if err != nil {
		metrics.RecordEventIngested("error")
		return nil, err
	}

	metrics.RecordEventIngested("accepted")
	return &Ingested{ProjectID: project.ID, Event: event, Issue: iss}, nil
}

// Notify evaluates the project's open rules against an ingested event and
// dispatches one notice per matched rule, all within the dispatch timeout.
// Delivery failures are reported in the result, not as an error.
func (p *Processor) Notify(ctx context.Context, in *Ingested) (*NotifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
	defer cancel()

	rules, err := p.rules.ListOpenRules(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	res := &NotifyResult{}
	if len(rules) == 0 {
		return res, nil
	}

	match, err := p.matcher.SelectMatchingRules(ctx, in.Issue, in.Event, rules)
	if err != nil {
		return nil, fmt.Errorf("matching rules: %w", err)
	}
	res.Matched, res.Skipped = match.Rules, match.Skipped
	if len(match.Rules) == 0 {
		return res, nil
	}

	setting, err := p.rules.GetSetting(ctx, in.ProjectID)
	if err != nil {
		return res, fmt.Errorf("loading setting: %w", err)
	}
	for _, rule := range match.Rules {
		failed := p.dispatcher.Dispatch(ctx, models.DispatchNotice{
			Setting: *setting,
			Rule:    *rule,
			Issue:   *in.Issue,
			Event:   *in.Event,
		})
		res.Failed = append(res.Failed, failed...)
	}
	slog.Info("notifications dispatched",
		"issue_id", in.Issue.ID, "rules", len(match.Rules), "failed", len(res.Failed))
	return res, nil
}

// ValidateEvent checks the client-supplied fields of an event.
func ValidateEvent(e *models.Event, now time.Time) error {
	v := &validation.Error{}
	if e == nil {
		v.Add("event", "is required")
		return v
	}
	if strings.TrimSpace(e.APIKey) == "" {
		v.Add("api_key", "is required")
	}
	switch t := strings.TrimSpace(e.Type); {
	case t == "":
		v.Add("type", "is required")
	case len(t) > maxTypeLength:
		v.Add("type", "must be at most %d characters", maxTypeLength)
	}
	if len(e.Detail.Message) > maxMessageLength {
		v.Add("detail.message", "must be at most %d bytes", maxMessageLength)
	}
	if len(e.Detail.Stack) > maxStackLength {
		v.Add("detail.stack", "must be at most %d bytes", maxStackLength)
	}
	if len(e.User) > maxUserLength {
		v.Add("user", "must be at most %d characters", maxUserLength)
	}
	if !e.Timestamp.IsZero() && e.Timestamp.After(now.Add(maxClockSkew)) {
		v.Add("timestamp", "must not be more than %s in the future", maxClockSkew)
	}
	return v.Err()
}
