package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/bugnest/pkg/models"
)

func normalizeLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// eventFields flattens an event into the generic map FieldMatch paths walk,
// using the event's JSON field names ("device.platform", "detail.message").
func eventFields(event *models.Event) map[string]any {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func getByPath(m map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	var cur any = m
	for _, p := range strings.Split(path, ".") {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, false
		}
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// matchField reports whether fields satisfies f. An unknown operator is a
// configuration problem, not a mismatch.
func matchField(f models.FieldMatch, fields map[string]any) (bool, error) {
	switch f.Op {
	case models.OpExists:
		_, ok := getByPath(fields, f.Path)
		return ok, nil
	case models.OpEquals:
		v, ok := getByPath(fields, f.Path)
		return ok && normalizeLower(toString(v)) == normalizeLower(f.Value), nil
	case models.OpContains:
		v, ok := getByPath(fields, f.Path)
		return ok && strings.Contains(normalizeLower(toString(v)), normalizeLower(f.Value)), nil
	case models.OpIn:
		v, ok := getByPath(fields, f.Path)
		if !ok {
			return false, nil
		}
		vs := normalizeLower(toString(v))
		if vs == "" {
			return false, nil
		}
		for _, it := range f.Values {
			if vs == normalizeLower(it) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown operator %q", f.Op)
	}
}

// listContains reports whether any item of list matches the issue. An item
// matches when all of its non-empty fields match; an empty item matches nothing.
func listContains(list []models.RuleListItem, issue *models.Issue, event *models.Event) bool {
	for _, it := range list {
		if it.Type == "" && it.Fingerprint == "" && it.Keyword == "" {
			continue
		}
		if it.Type != "" && !strings.EqualFold(strings.TrimSpace(it.Type), issue.Type) {
			continue
		}
		if it.Fingerprint != "" && strings.TrimSpace(it.Fingerprint) != issue.Fingerprint {
			continue
		}
		if it.Keyword != "" {
			kw := normalizeLower(it.Keyword)
			if !strings.Contains(normalizeLower(issue.Metadata.Message), kw) &&
				!strings.Contains(normalizeLower(event.Detail.Message), kw) {
				continue
			}
		}
		return true
	}
	return false
}
