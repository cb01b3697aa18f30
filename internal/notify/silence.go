package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/cache"
	"github.com/kiranshivaraju/bugnest/internal/config"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/redis/go-redis/v9"
)

// SilenceStore tracks when each rule last fired for each issue. TryFire must
// check and record atomically per (ruleID, issueID): of two concurrent callers
// inside one interval, at most one gets true.
type SilenceStore interface {
	TryFire(ctx context.Context, ruleID, issueID int64, interval time.Duration, now time.Time) (bool, error)
}

// NewSilenceStore builds the silence backend named by cfg.SilenceBackend.
// Called once at server startup.
func NewSilenceStore(cfg config.NotifierConfig, st store.Store, rdb *redis.Client) (SilenceStore, error) {
	switch cfg.SilenceBackend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("silence backend redis requires a redis client")
		}
		return cache.NewRedisSilenceStore(rdb), nil
	case "postgres":
		if st == nil {
			return nil, fmt.Errorf("silence backend postgres requires a store")
		}
		return &PostgresSilenceStore{store: st}, nil
	case "memory":
		return NewMemorySilenceStore(), nil
	default:
		return nil, fmt.Errorf("unknown silence backend %q: must be one of redis, postgres, memory", cfg.SilenceBackend)
	}
}

type silenceKey struct {
	ruleID, issueID int64
}

// MemorySilenceStore keeps silence state in process. Suitable for a single
// instance and for tests.
type MemorySilenceStore struct {
	mu        sync.Mutex
	lastFired map[silenceKey]time.Time
}

func NewMemorySilenceStore() *MemorySilenceStore {
	return &MemorySilenceStore{lastFired: make(map[silenceKey]time.Time)}
}

func (s *MemorySilenceStore) TryFire(_ context.Context, ruleID, issueID int64, interval time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := silenceKey{ruleID, issueID}
	if last, ok := s.lastFired[k]; ok && interval > 0 && now.Sub(last) < interval {
		return false, nil
	}
	s.lastFired[k] = now
	return true, nil
}

// LastFired returns the last recorded firing of ruleID for issueID.
func (s *MemorySilenceStore) LastFired(ruleID, issueID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastFired[silenceKey{ruleID, issueID}]
	return t, ok
}

// PostgresSilenceStore keeps silence state in the notification_silences
// table, shared by every instance using the database.
type PostgresSilenceStore struct {
	store store.Store
}

func NewPostgresSilenceStore(st store.Store) *PostgresSilenceStore {
	return &PostgresSilenceStore{store: st}
}

func (s *PostgresSilenceStore) TryFire(ctx context.Context, ruleID, issueID int64, interval time.Duration, now time.Time) (bool, error) {
	return s.store.TryFireSilence(ctx, ruleID, issueID, interval, now)
}

var (
	_ SilenceStore = (*MemorySilenceStore)(nil)
	_ SilenceStore = (*PostgresSilenceStore)(nil)
	_ SilenceStore = (*cache.RedisSilenceStore)(nil)
)
