package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

const (
	maxNameLength = 100
	maxListItems  = 100
	maxEmails     = 20
	maxWebhooks   = 20
	maxInterval   = 30 * 24 * 3600
)

// DefaultInterval is the silence period, in seconds, of a rule created without one.
const DefaultInterval int64 = 1800

// WebhookTypes are the recognised webhook payload formats.
var WebhookTypes = []string{"dingtalk", "wechat_work", "feishu", "slack", "others"}

// RuleStore is the slice of the store rule management needs.
type RuleStore interface {
	ListRules(ctx context.Context, projectID int64) ([]*models.NotificationRule, error)
	GetRule(ctx context.Context, id, projectID int64) (*models.NotificationRule, error)
	CreateRule(ctx context.Context, rule *models.NotificationRule) error
	UpdateRule(ctx context.Context, rule *models.NotificationRule) error
	DeleteRule(ctx context.Context, id, projectID int64) error
	GetSetting(ctx context.Context, projectID int64) (*models.NotificationSetting, error)
	UpsertSetting(ctx context.Context, setting *models.NotificationSetting) error
}

// RuleID identifies a rule within its project.
type RuleID struct {
	ProjectID int64
	ID        int64
}

// RuleFields carries the writable rule fields. Nil means "not provided".
type RuleFields struct {
	Name      *string                `json:"name"`
	Data      *models.RuleData       `json:"data"`
	WhiteList *[]models.RuleListItem `json:"white_list"`
	BlackList *[]models.RuleListItem `json:"black_list"`
	Level     *models.Level          `json:"level"`
	Interval  *int64                 `json:"interval"`
	Open      *bool                  `json:"open"`
}

type CreateRuleRequest struct {
	ProjectID int64
	RuleFields
}

type UpdateRuleRequest struct {
	RuleID
	RuleFields
}

// SettingPatch carries the writable setting fields. Nil means "unchanged".
type SettingPatch struct {
	Emails   *[]models.EmailTarget   `json:"emails"`
	Browser  *models.BrowserTarget   `json:"browser"`
	Webhooks *[]models.WebhookTarget `json:"webhooks"`
}

// RuleService manages notification rules and the per-project setting.
type RuleService struct {
	store RuleStore
	now   func() time.Time
}

func NewRuleService(st RuleStore) *RuleService {
	return &RuleService{store: st, now: time.Now}
}

func (s *RuleService) ListRules(ctx context.Context, projectID int64) ([]*models.NotificationRule, error) {
	return s.store.ListRules(ctx, projectID)
}

// ListOpenRules returns the enabled rules of a project, the set the ingest
// path evaluates.
func (s *RuleService) ListOpenRules(ctx context.Context, projectID int64) ([]*models.NotificationRule, error) {
	rules, err := s.store.ListRules(ctx, projectID)
	if err != nil {
		return nil, err
	}
	open := rules[:0]
	for _, r := range rules {
		if r.Open {
			open = append(open, r)
		}
	}
	return open, nil
}

func (s *RuleService) GetRule(ctx context.Context, id RuleID) (*models.NotificationRule, error) {
	return s.store.GetRule(ctx, id.ID, id.ProjectID)
}

func (s *RuleService) CreateRule(ctx context.Context, req CreateRuleRequest) (*models.NotificationRule, error) {
	v := &validation.Error{}
	if req.Name == nil {
		v.Add("name", "is required")
	}
	if req.Level == nil {
		v.Add("level", "is required")
	}
	validateRuleFields(req.RuleFields, v)
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rule := &models.NotificationRule{
		ProjectID: req.ProjectID,
		Interval:  DefaultInterval,
		Open:      true,
		WhiteList: []models.RuleListItem{},
		BlackList: []models.RuleListItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyRuleFields(rule, req.RuleFields)

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("creating rule: %w", err)
	}
	return rule, nil
}

// UpdateRule applies the provided fields to an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, req UpdateRuleRequest) (*models.NotificationRule, error) {
	v := &validation.Error{}
	validateRuleFields(req.RuleFields, v)
	if err := v.Err(); err != nil {
		return nil, err
	}

	rule, err := s.store.GetRule(ctx, req.ID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	applyRuleFields(rule, req.RuleFields)
	rule.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating rule: %w", err)
	}
	return rule, nil
}

func (s *RuleService) DeleteRule(ctx context.Context, id RuleID) error {
	return s.store.DeleteRule(ctx, id.ID, id.ProjectID)
}

// DefaultSetting is the setting of a project that never stored one: every
// channel off.
func DefaultSetting(projectID int64) *models.NotificationSetting {
	return &models.NotificationSetting{
		ProjectID: projectID,
		Emails:    []models.EmailTarget{},
		Webhooks:  []models.WebhookTarget{},
	}
}

func (s *RuleService) GetSetting(ctx context.Context, projectID int64) (*models.NotificationSetting, error) {
	st, err := s.store.GetSetting(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return DefaultSetting(projectID), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateSetting applies patch to the project's setting, creating it if needed.
func (s *RuleService) UpdateSetting(ctx context.Context, projectID int64, patch SettingPatch) (*models.NotificationSetting, error) {
	v := &validation.Error{}
	validateSettingPatch(patch, v)
	if err := v.Err(); err != nil {
		return nil, err
	}

	st, err := s.GetSetting(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if patch.Emails != nil {
		st.Emails = *patch.Emails
	}
	if patch.Browser != nil {
		st.Browser = *patch.Browser
	}
	if patch.Webhooks != nil {
		st.Webhooks = *patch.Webhooks
	}
	st.UpdatedAt = s.now().UTC()

	if err := s.store.UpsertSetting(ctx, st); err != nil {
		return nil, fmt.Errorf("updating setting: %w", err)
	}
	return st, nil
}

func applyRuleFields(rule *models.NotificationRule, f RuleFields) {
	if f.Name != nil {
		rule.Name = strings.TrimSpace(*f.Name)
	}
	if f.Data != nil {
		rule.Data = *f.Data
	}
	if f.WhiteList != nil {
		rule.WhiteList = *f.WhiteList
	}
	if f.BlackList != nil {
		rule.BlackList = *f.BlackList
	}
	if f.Level != nil {
		rule.Level = *f.Level
	}
	if f.Interval != nil {
		rule.Interval = *f.Interval
	}
	if f.Open != nil {
		rule.Open = *f.Open
	}
}

func validateRuleFields(f RuleFields, v *validation.Error) {
	if f.Name != nil {
		name := strings.TrimSpace(*f.Name)
		switch {
		case name == "":
			v.Add("name", "must not be empty")
		case len(name) > maxNameLength:
			v.Add("name", "must be at most %d characters", maxNameLength)
		}
	}
	if f.Level != nil && !f.Level.Valid() {
		v.Add("level", "must be one of serious, warning, default; got %q", *f.Level)
	}
	if f.Interval != nil && (*f.Interval < 0 || *f.Interval > maxInterval) {
		v.Add("interval", "must be between 0 and %d seconds", maxInterval)
	}
	if f.Data != nil {
		validateRuleData(*f.Data, v)
	}
	if f.WhiteList != nil {
		validateList("white_list", *f.WhiteList, v)
	}
	if f.BlackList != nil {
		validateList("black_list", *f.BlackList, v)
	}
}

func validateRuleData(d models.RuleData, v *validation.Error) {
	if d.MinEvents < 0 {
		v.Add("data.min_events", "must not be negative")
	}
	if d.MinUsers < 0 {
		v.Add("data.min_users", "must not be negative")
	}
	for i, f := range d.FieldsAll {
		field := fmt.Sprintf("data.fields_all[%d]", i)
		if strings.TrimSpace(f.Path) == "" {
			v.Add(field+".path", "is required")
		}
		switch f.Op {
		case models.OpEquals, models.OpContains:
			if f.Value == "" {
				v.Add(field+".value", "is required for %s", f.Op)
			}
		case models.OpIn:
			if len(f.Values) == 0 {
				v.Add(field+".values", "is required for in")
			}
		case models.OpExists:
		default:
			v.Add(field+".op", "must be one of eq, contains, exists, in; got %q", f.Op)
		}
	}
}

func validateList(name string, items []models.RuleListItem, v *validation.Error) {
	if len(items) > maxListItems {
		v.Add(name, "must have at most %d items", maxListItems)
		return
	}
	for i, it := range items {
		if it.Type == "" && it.Fingerprint == "" && it.Keyword == "" {
			v.Add(fmt.Sprintf("%s[%d]", name, i), "must set type, fingerprint or keyword")
		}
	}
}

func validateSettingPatch(p SettingPatch, v *validation.Error) {
	if p.Emails != nil {
		if len(*p.Emails) > maxEmails {
			v.Add("emails", "must have at most %d entries", maxEmails)
		}
		for i, e := range *p.Emails {
			if _, err := mail.ParseAddress(e.Email); err != nil {
				v.Add(fmt.Sprintf("emails[%d].email", i), "is not a valid address")
			}
		}
	}
	if p.Webhooks != nil {
		if len(*p.Webhooks) > maxWebhooks {
			v.Add("webhooks", "must have at most %d entries", maxWebhooks)
		}
		for i, w := range *p.Webhooks {
			field := fmt.Sprintf("webhooks[%d]", i)
			if !validWebhookType(w.Type) {
				v.Add(field+".type", "must be one of %s; got %q", strings.Join(WebhookTypes, ", "), w.Type)
			}
			u, err := url.Parse(w.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				v.Add(field+".url", "must be an absolute http(s) URL")
			}
		}
	}
}

func validWebhookType(t string) bool {
	for _, wt := range WebhookTypes {
		if t == wt {
			return true
		}
	}
	return false
}
