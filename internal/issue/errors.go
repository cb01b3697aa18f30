package issue

import "fmt"

// AggregationError reports that an event could not be folded into its issue.
// The event is not counted when this is returned.
type AggregationError struct {
	APIKey      string
	Fingerprint string
	Err         error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate issue %s/%s: %v", e.APIKey, e.Fingerprint, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}
