package billsync

import (
	"testing"
	"time"
)

func TestStateStoreIssueAndConsumeOnce(t *testing.T) {
	store := NewStateStore(time.Minute)

	state, err := store.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if state == "" {
		t.Fatal("expected non-empty state")
	}
	if !store.Consume(state) {
		t.Fatal("freshly issued state should be consumable")
	}
	if store.Consume(state) {
		t.Fatal("state must be single-use")
	}
}

func TestStateStoreRejectsUnknownState(t *testing.T) {
	store := NewStateStore(time.Minute)
	if store.Consume("never-issued") {
		t.Fatal("unknown state must be rejected")
	}
	if store.Consume("") {
		t.Fatal("empty state must be rejected")
	}
}

// Consume checks redis first and falls through to the in-memory map on a
// miss, so a state issued while redis was unavailable still verifies.
func TestStateStoreConsumeFallsThroughToMemory(t *testing.T) {
	store := NewStateStore(time.Minute)

	state := "issued-before-redis"
	store.mu.Lock()
	store.states[state] = time.Now().Add(time.Minute)
	store.mu.Unlock()

	if !store.Consume(state) {
		t.Fatal("in-memory state should survive a redis miss")
	}
	if store.Consume(state) {
		t.Fatal("state must be single-use")
	}
}

func TestStateStoreExpiry(t *testing.T) {
	store := NewStateStore(-time.Second)

	state, err := store.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if store.Consume(state) {
		t.Fatal("expired state must be rejected")
	}
}

func TestStateStoreSweep(t *testing.T) {
	store := NewStateStore(-time.Second)
	if _, err := store.Issue(); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	store.mu.Lock()
	store.sweepLocked(time.Now())
	remaining := len(store.states)
	store.mu.Unlock()

	if remaining != 0 {
		t.Fatalf("expected expired states swept, %d remaining", remaining)
	}
}
