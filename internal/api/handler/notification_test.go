package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/kiranshivaraju/bugnest/internal/api/handler"
	"github.com/kiranshivaraju/bugnest/internal/notify"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRules is a minimal RuleStore so handlers run against the real RuleService.
type memRules struct {
	rules    []*models.NotificationRule
	settings map[int64]*models.NotificationSetting
}

func (m *memRules) ListRules(_ context.Context, projectID int64) ([]*models.NotificationRule, error) {
	var out []*models.NotificationRule
	for _, r := range m.rules {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRules) GetRule(_ context.Context, id, projectID int64) (*models.NotificationRule, error) {
	for _, r := range m.rules {
		if r.ID == id && r.ProjectID == projectID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memRules) CreateRule(_ context.Context, rule *models.NotificationRule) error {
	rule.ID = int64(len(m.rules) + 1)
	cp := *rule
	m.rules = append(m.rules, &cp)
	return nil
}

func (m *memRules) UpdateRule(_ context.Context, rule *models.NotificationRule) error {
	for i, r := range m.rules {
		if r.ID == rule.ID {
			cp := *rule
			m.rules[i] = &cp
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memRules) DeleteRule(_ context.Context, id, projectID int64) error {
	for i, r := range m.rules {
		if r.ID == id && r.ProjectID == projectID {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memRules) GetSetting(_ context.Context, projectID int64) (*models.NotificationSetting, error) {
	if s, ok := m.settings[projectID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memRules) UpsertSetting(_ context.Context, s *models.NotificationSetting) error {
	if m.settings == nil {
		m.settings = map[int64]*models.NotificationSetting{}
	}
	cp := *s
	m.settings[s.ProjectID] = &cp
	return nil
}

func newRuleService() (*notify.RuleService, *memRules) {
	st := &memRules{}
	return notify.NewRuleService(st), st
}

func TestCreateRule(t *testing.T) {
	svc, st := newRuleService()
	h := handler.NewCreateRuleHandler(svc)

	w := serve(t, http.MethodPost, "/rules", "/rules",
		`{"name":"checkout errors","level":"serious","white_list":[{"keyword":"checkout"}]}`, h)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got models.NotificationRule
	dataOf(t, w, &got)
	assert.Equal(t, int64(1), got.ProjectID)
	assert.Equal(t, models.LevelSerious, got.Level)
	assert.Equal(t, notify.DefaultInterval, got.Interval)
	assert.True(t, got.Open)
	require.Len(t, st.rules, 1)
	assert.Equal(t, "checkout", st.rules[0].WhiteList[0].Keyword)
}

func TestCreateRule_Invalid(t *testing.T) {
	svc, st := newRuleService()
	h := handler.NewCreateRuleHandler(svc)

	w := serve(t, http.MethodPost, "/rules", "/rules", `{"level":"critical","interval":-1}`, h)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := errorOf(t, w)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.GreaterOrEqual(t, len(e.Details), 3)
	assert.Empty(t, st.rules)

	w = serve(t, http.MethodPost, "/rules", "/rules", `not json`, h)
	assert.Equal(t, "INVALID_REQUEST", errorOf(t, w).Code)
}

func TestRuleLifecycle(t *testing.T) {
	svc, _ := newRuleService()
	create := handler.NewCreateRuleHandler(svc)
	w := serve(t, http.MethodPost, "/rules", "/rules", `{"name":"r","level":"warning"}`, create)
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(t, http.MethodPatch, "/rules/{ruleID}", "/rules/1", `{"open":false,"interval":60}`, handler.NewUpdateRuleHandler(svc))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.NotificationRule
	dataOf(t, w, &updated)
	assert.False(t, updated.Open)
	assert.Equal(t, int64(60), updated.Interval)
	assert.Equal(t, "r", updated.Name)

	w = serve(t, http.MethodGet, "/rules/{ruleID}", "/rules/1", "", handler.NewGetRuleHandler(svc))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(t, http.MethodGet, "/rules", "/rules", "", handler.NewListRulesHandler(svc))
	var list []models.NotificationRule
	dataOf(t, w, &list)
	assert.Len(t, list, 1)

	w = serve(t, http.MethodDelete, "/rules/{ruleID}", "/rules/1", "", handler.NewDeleteRuleHandler(svc))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(t, http.MethodGet, "/rules/{ruleID}", "/rules/1", "", handler.NewGetRuleHandler(svc))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRules_EmptyIsArray(t *testing.T) {
	svc, _ := newRuleService()
	w := serve(t, http.MethodGet, "/rules", "/rules", "", handler.NewListRulesHandler(svc))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}

func TestRule_OtherProjectNotFound(t *testing.T) {
	svc, st := newRuleService()
	st.rules = append(st.rules, &models.NotificationRule{ID: 1, ProjectID: 2, Name: "theirs", Level: models.LevelDefault})

	w := serve(t, http.MethodPatch, "/rules/{ruleID}", "/rules/1", `{"name":"mine"}`, handler.NewUpdateRuleHandler(svc))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, http.MethodDelete, "/rules/{ruleID}", "/rules/1", "", handler.NewDeleteRuleHandler(svc))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "theirs", st.rules[0].Name)
}

func TestSetting_DefaultThenPatch(t *testing.T) {
	svc, _ := newRuleService()

	w := serve(t, http.MethodGet, "/setting", "/setting", "", handler.NewGetSettingHandler(svc))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.NotificationSetting
	dataOf(t, w, &got)
	assert.Equal(t, int64(1), got.ProjectID)
	assert.Empty(t, got.Emails)

	w = serve(t, http.MethodPatch, "/setting", "/setting",
		`{"emails":[{"email":"ops@example.com","open":true}],"browser":{"open":true}}`,
		handler.NewUpdateSettingHandler(svc))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(t, http.MethodGet, "/setting", "/setting", "", handler.NewGetSettingHandler(svc))
	dataOf(t, w, &got)
	require.Len(t, got.Emails, 1)
	assert.Equal(t, "ops@example.com", got.Emails[0].Email)
	assert.True(t, got.Browser.Open)
}

func TestSetting_InvalidPatch(t *testing.T) {
	svc, st := newRuleService()

	w := serve(t, http.MethodPatch, "/setting", "/setting",
		`{"webhooks":[{"type":"carrier-pigeon","url":"ftp://x","open":true}]}`,
		handler.NewUpdateSettingHandler(svc))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, st.settings)
}
