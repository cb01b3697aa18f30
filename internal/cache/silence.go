package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fireScript opens a window at ARGV[1] (unix ms) unless the recorded one
// started less than ARGV[2] ms earlier. The key also expires after the
// interval so idle pairs do not pile up.
var fireScript = redis.NewScript(`
local last = redis.call("GET", KEYS[1])
if last and tonumber(ARGV[1]) - tonumber(last) < tonumber(ARGV[2]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// RedisSilenceStore keeps per-(rule, issue) silence windows as keys holding
// the time the window opened.
type RedisSilenceStore struct {
	client *redis.Client
}

func NewRedisSilenceStore(client *redis.Client) *RedisSilenceStore {
	return &RedisSilenceStore{client: client}
}

// TryFire reports whether ruleID may fire for issueID at now, and if so opens
// a new silence window of length interval starting at now. Windows are
// measured on now, not on the Redis clock. The script makes check-and-set
// atomic.
func (s *RedisSilenceStore) TryFire(ctx context.Context, ruleID, issueID int64, interval time.Duration, now time.Time) (bool, error) {
	if interval <= 0 {
		return true, nil
	}
	fired, err := fireScript.Run(ctx, s.client, []string{SilenceKey(ruleID, issueID)},
		now.UnixMilli(), interval.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("silence check rule %d issue %d: %w", ruleID, issueID, err)
	}
	return fired == 1, nil
}

// LastFired returns when the open silence window started, if any.
func (s *RedisSilenceStore) LastFired(ctx context.Context, ruleID, issueID int64) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, SilenceKey(ruleID, issueID)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
