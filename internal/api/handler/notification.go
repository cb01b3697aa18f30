package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/bugnest/internal/api/response"
	"github.com/kiranshivaraju/bugnest/internal/notify"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// RuleManager manages a project's notification rules and setting.
type RuleManager interface {
	ListRules(ctx context.Context, projectID int64) ([]*models.NotificationRule, error)
	GetRule(ctx context.Context, id notify.RuleID) (*models.NotificationRule, error)
	CreateRule(ctx context.Context, req notify.CreateRuleRequest) (*models.NotificationRule, error)
	UpdateRule(ctx context.Context, req notify.UpdateRuleRequest) (*models.NotificationRule, error)
	DeleteRule(ctx context.Context, id notify.RuleID) error
	GetSetting(ctx context.Context, projectID int64) (*models.NotificationSetting, error)
	UpdateSetting(ctx context.Context, projectID int64, patch notify.SettingPatch) (*models.NotificationSetting, error)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

// NewListRulesHandler returns an http.HandlerFunc for GET /api/v1/notification/rules.
func NewListRulesHandler(svc RuleManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		rules, err := svc.ListRules(r.Context(), project.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rules == nil {
			rules = []*models.NotificationRule{}
		}
		response.JSON(w, rules)
	}
}

// NewGetRuleHandler returns an http.HandlerFunc for GET /api/v1/notification/rules/{ruleID}.
func NewGetRuleHandler(svc RuleManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ruleID(w, r)
		if !ok {
			return
		}
		rule, err := svc.GetRule(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rule)
	}
}

// NewCreateRuleHandler returns an http.HandlerFunc for POST /api/v1/notification/rules.
func NewCreateRuleHandler(svc RuleManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		var fields notify.RuleFields
		if !decodeJSON(w, r, &fields) {
			return
		}
		rule, err := svc.CreateRule(r.Context(), notify.CreateRuleRequest{ProjectID: project.ID, RuleFields: fields})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, rule)
	}
}

// NewUpdateRuleHandler returns an http.HandlerFunc for
// PATCH /api/v1/notification/rules/{ruleID}. Omitted fields are unchanged.
func NewUpdateRuleHandler(svc RuleManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ruleID(w, r)
		if !ok {
			return
		}
		var fields notify.RuleFields
		if !decodeJSON(w, r, &fields) {
			return
		}
		rule, err := svc.UpdateRule(r.Context(), notify.UpdateRuleRequest{RuleID: id, RuleFields: fields})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, rule)
	}
}

// NewDeleteRuleHandler returns an http.HandlerFunc for DELETE /api/v1/notification/rules/{ruleID}.
func NewDeleteRuleHandler(svc RuleManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := ruleID(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteRule(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

func ruleID(w http.ResponseWriter, r *http.Request) (notify.RuleID, bool) {
	project, ok := projectFrom(w, r)
	if !ok {
		return notify.RuleID{}, false
	}
	id, ok := pathID(w, r, "ruleID")
	if !ok {
		return notify.RuleID{}, false
	}
	return notify.RuleID{ProjectID: project.ID, ID: id}, true
}

// NewGetSettingHandler returns an http.HandlerFunc for GET /api/v1/notification/setting.
func NewGetSettingHandler(svc RuleManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		setting, err := svc.GetSetting(r.Context(), project.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, setting)
	}
}

// NewUpdateSettingHandler returns an http.HandlerFunc for PATCH /api/v1/notification/setting.
func NewUpdateSettingHandler(svc RuleManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		var patch notify.SettingPatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		setting, err := svc.UpdateSetting(r.Context(), project.ID, patch)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, setting)
	}
}
