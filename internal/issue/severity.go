package issue

import "github.com/kiranshivaraju/bugnest/pkg/models"

// SeverityPolicy assigns a rule level to an event by its type.
type SeverityPolicy struct {
	serious map[string]bool
	warning map[string]bool
}

func NewSeverityPolicy(seriousTypes, warningTypes []string) *SeverityPolicy {
	p := &SeverityPolicy{
		serious: make(map[string]bool, len(seriousTypes)),
		warning: make(map[string]bool, len(warningTypes)),
	}
	for _, t := range seriousTypes {
		p.serious[t] = true
	}
	for _, t := range warningTypes {
		p.warning[t] = true
	}
	return p
}

// Assign returns serious, then warning, then default. A type listed in both
// is serious.
func (p *SeverityPolicy) Assign(eventType string) models.Level {
	switch {
	case p.serious[eventType]:
		return models.LevelSerious
	case p.warning[eventType]:
		return models.LevelWarning
	default:
		return models.LevelDefault
	}
}
