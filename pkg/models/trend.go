package models

// TrendBucket is one granularity unit of a trend series.
type TrendBucket struct {
	Timestamp string `json:"timestamp"`
	Count     int64  `json:"count"`
}

// Trend is a bucket series, optionally tied to one issue. Period is set for
// preset windows ("24h", "14d").
type Trend struct {
	IssueID     int64         `json:"issue_id,omitempty"`
	Period      string        `json:"period,omitempty"`
	Granularity string        `json:"granularity"`
	Buckets     []TrendBucket `json:"buckets"`
}
