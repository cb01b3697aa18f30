package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/metrics"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// MatchResult is the outcome of evaluating a rule batch. Rules keeps the input
// order. Skipped lists rules that could not be evaluated.
type MatchResult struct {
	Rules   []*models.NotificationRule
	Skipped []*ConfigurationError
}

// Matcher selects the notification rules an issue/event pair triggers.
type Matcher struct {
	silence SilenceStore
	now     func() time.Time
}

func NewMatcher(silence SilenceStore) *Matcher {
	return &Matcher{silence: silence, now: time.Now}
}

// SelectMatchingRules returns every rule that applies to the issue/event
// pair. Checks run cheapest first and the silence window last, so silence
// state is only recorded for rules that otherwise match. event.Severity must
// already be assigned. A silence backend failure drops that rule for this
// event; the error is returned only when ctx is done.
func (m *Matcher) SelectMatchingRules(ctx context.Context, issue *models.Issue, event *models.Event, rules []*models.NotificationRule) (MatchResult, error) {
	result := MatchResult{Rules: []*models.NotificationRule{}}
	var fields map[string]any

	// Silence windows are measured on receive time.
	at := event.ReceivedAt
	if at.IsZero() {
		at = m.now()
	}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rule == nil || !rule.Open {
			continue
		}
		if !rule.Level.Valid() {
			result.Skipped = append(result.Skipped, &ConfigurationError{
				RuleID: rule.ID, Field: "level", Reason: "unrecognised level " + string(rule.Level),
			})
			metrics.RecordRuleConfigError()
			continue
		}
		if listContains(rule.BlackList, issue, event) {
			continue
		}
		if len(rule.WhiteList) > 0 && !listContains(rule.WhiteList, issue, event) {
			continue
		}
		if rule.Level != event.Severity {
			continue
		}

		if len(rule.Data.FieldsAll) > 0 && fields == nil {
			fields = eventFields(event)
		}
		ok, cfgErr := matchData(rule, issue, fields)
		if cfgErr != nil {
			result.Skipped = append(result.Skipped, cfgErr)
			metrics.RecordRuleConfigError()
			continue
		}
		if !ok {
			continue
		}

		fired, err := m.silence.TryFire(ctx, rule.ID, issue.ID, rule.IntervalDuration(), at)
		if err != nil {
			slog.Warn("silence check failed, rule not fired",
				"rule_id", rule.ID, "issue_id", issue.ID, "error", err)
			continue
		}
		if !fired {
			slog.Debug("rule silenced", "rule_id", rule.ID, "issue_id", issue.ID)
			continue
		}

		metrics.RecordRuleMatched(string(rule.Level))
		result.Rules = append(result.Rules, rule)
	}

	for _, s := range result.Skipped {
		slog.Warn("notification rule skipped", "rule_id", s.RuleID, "field", s.Field, "reason", s.Reason)
	}
	return result, nil
}

func matchData(rule *models.NotificationRule, issue *models.Issue, fields map[string]any) (bool, *ConfigurationError) {
	d := rule.Data
	if d.MinEvents > 0 && issue.EventsCount < d.MinEvents {
		return false, nil
	}
	if d.MinUsers > 0 && issue.UsersCount < d.MinUsers {
		return false, nil
	}
	for _, f := range d.FieldsAll {
		ok, err := matchField(f, fields)
		if err != nil {
			return false, &ConfigurationError{RuleID: rule.ID, Field: "data.fields_all", Reason: err.Error()}
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
