package notify

import "fmt"

// ConfigurationError reports a rule that cannot be evaluated as stored. The
// rule is skipped; the rest of the batch is still evaluated.
type ConfigurationError struct {
	RuleID int64
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule %d: invalid %s: %s", e.RuleID, e.Field, e.Reason)
}
