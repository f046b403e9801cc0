package billsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
)

const (
	oauthStateTTL     = 10 * time.Minute
	oauthStateKeyBase = "billsync:oauth_state:"
)

// StateStore issues single-use CSRF states for the OAuth flow. States live in
// redis when available so every instance can verify them; without redis an
// in-memory map with expiry serves single-instance deployments.
type StateStore struct {
	ttl time.Duration

	mu     sync.Mutex
	states map[string]time.Time
}

func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{
		ttl:    ttl,
		states: make(map[string]time.Time),
	}
}

// Issue creates a fresh state valid for the store's TTL.
func (s *StateStore) Issue() (string, error) {
	state := uuid.NewString()
	if config.GetRedisDB() != nil {
		if err := config.SetRedisValue(oauthStateKeyBase+state, "1", s.ttl); err != nil {
			return "", err
		}
		return state, nil
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.states[state] = now.Add(s.ttl)
	return state, nil
}

// Consume validates a state and invalidates it, returning whether it was
// known and unexpired. A state can be consumed at most once. A redis miss
// falls through to the in-memory map: states issued before redis connected
// live there and must still verify.
func (s *StateStore) Consume(state string) bool {
	if state == "" {
		return false
	}
	if _, found, err := config.GetDelRedisValue(oauthStateKeyBase + state); err == nil && found {
		return true
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return now.Before(expiry)
}

func (s *StateStore) sweepLocked(now time.Time) {
	for state, expiry := range s.states {
		if now.After(expiry) {
			delete(s.states, state)
		}
	}
}

// StartSweeper periodically clears expired in-memory states until ctx is done.
func (s *StateStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.mu.Lock()
				s.sweepLocked(now)
				s.mu.Unlock()
			}
		}
	}()
}

// oauthStates is the process-wide store used by the OAuth handlers.
var oauthStates = NewStateStore(oauthStateTTL)

// OAuthStates exposes the shared store so main can start its sweeper.
func OAuthStates() *StateStore {
	return oauthStates
}
