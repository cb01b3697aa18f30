package cache

import (
	"fmt"
)

func IssueTrendKey(apiKey string, issueID int64, period string, windowEnd int64) string {
	return fmt.Sprintf("trend:issue:%s:%d:%s:%d", apiKey, issueID, period, windowEnd)
}

func ProjectTrendKey(apiKey, granularity string, start, end int64) string {
	return fmt.Sprintf("trend:project:%s:%s:%d:%d", apiKey, granularity, start, end)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func IngestRateLimitKey(apiKey string) string {
	return fmt.Sprintf("ratelimit:ingest:%s", apiKey)
}

func IssueLockKey(apiKey, fingerprint string) string {
	return fmt.Sprintf("lock:issue:%s:%s", apiKey, fingerprint)
}

func SilenceKey(ruleID, issueID int64) string {
	return fmt.Sprintf("silence:%d:%d", ruleID, issueID)
}

func BrowserChannel(projectID int64) string {
	return fmt.Sprintf("notify:browser:%d", projectID)
}
