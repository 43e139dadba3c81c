package registry

import (
	"log/slog"
	"testing"
	"time"

	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
)

func newTestRegistry(t *testing.T, maxSessions int) *Registry {
	t.Helper()
	tables, err := policy.DefaultTables()
	if err != nil {
		t.Fatalf("DefaultTables: %v", err)
	}
	cfg := config.Config{MaxSessions: maxSessions, IdleTTL: 50 * time.Millisecond}
	pending := prompt.NewPendingTable(60 * time.Second)
	log := slog.Default()
	r := New(log, cfg, tables, pending)
	t.Cleanup(r.Close)
	return r
}

func TestAllocateRespectsMaxSessions(t *testing.T) {
	r := newTestRegistry(t, 2)

	s1, err := r.Allocate(policy.LevelLow)
	if err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	_, err = r.Allocate(policy.LevelLow)
	if err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	_, err = r.Allocate(policy.LevelLow)
	if err == nil {
		t.Fatalf("expected third allocate to fail with max sessions reached")
	}

	if err := r.Disconnect(s1.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := r.Allocate(policy.LevelLow); err != nil {
		t.Fatalf("expected allocate to succeed after freeing a slot: %v", err)
	}
}

func TestGetUnknownSessionReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t, 5)
	if _, err := r.Get("does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown session id")
	}
}

func TestListReturnsAllocatedSessions(t *testing.T) {
	r := newTestRegistry(t, 5)
	s1, _ := r.Allocate(policy.LevelLow)
	s2, _ := r.Allocate(policy.LevelMedium)

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	ids := map[string]bool{list[0].ID: true, list[1].ID: true}
	if !ids[s1.ID] || !ids[s2.ID] {
		t.Fatalf("expected both allocated sessions in list")
	}
}

func TestDisconnectRemovesSession(t *testing.T) {
	r := newTestRegistry(t, 5)
	s, _ := r.Allocate(policy.LevelLow)
	if err := r.Disconnect(s.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := r.Get(s.ID); err == nil {
		t.Fatalf("expected session to be gone after disconnect")
	}
}

func TestDisconnectAllClearsRegistry(t *testing.T) {
	r := newTestRegistry(t, 5)
	r.Allocate(policy.LevelLow)
	r.Allocate(policy.LevelMedium)
	r.DisconnectAll()
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry after DisconnectAll")
	}
}
