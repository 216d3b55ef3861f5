package registry

import (
	"testing"
	"time"

	"github.com/danpasecinic/deployd/internal/types"
)

func TestHeartbeatRejectsMissingAgentID(t *testing.T) {
	r := New(10 * time.Second)
	if err := r.Heartbeat("", "host:1", 1, 1, types.AgentFree, 50); err != ErrMissingAgentID {
		t.Fatalf("expected ErrMissingAgentID, got %v", err)
	}
}

func TestHeartbeatUpsertIsIdempotent(t *testing.T) {
	r := New(10 * time.Second)
	for i := 0; i < 3; i++ {
		if err := r.Heartbeat("a1", "10.0.0.1:5001", 20, 30, types.AgentFree, 50); err != nil {
			t.Fatalf("heartbeat %d: %v", i, err)
		}
	}

	agents := r.List()
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	rec := agents["a1"]
	if rec.CPUPercent != 20 || rec.MemoryPercent != 30 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestHeartbeatReplacesNotMerges(t *testing.T) {
	r := New(10 * time.Second)
	_ = r.Heartbeat("a1", "10.0.0.1:5001", 20, 30, types.AgentBusy, 75)
	_ = r.Heartbeat("a1", "10.0.0.1:5001", 5, 5, types.AgentFree, 50)

	rec := r.List()["a1"]
	if rec.State != types.AgentFree || rec.CPUPercent != 5 {
		t.Fatalf("expected full replacement, got %+v", rec)
	}
}

func TestExpireStaleRemovesOldRecords(t *testing.T) {
	r := New(10 * time.Millisecond)
	_ = r.Heartbeat("a1", "10.0.0.1:5001", 1, 1, types.AgentFree, 50)

	time.Sleep(20 * time.Millisecond)
	removed := r.ExpireStale()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry after expiry")
	}
}

func TestSelectPicksMinCPUThenMemoryThenID(t *testing.T) {
	r := New(time.Minute)
	_ = r.Heartbeat("b", "host:1", 10, 10, types.AgentFree, 50)
	_ = r.Heartbeat("a", "host:2", 5, 50, types.AgentFree, 50)
	_ = r.Heartbeat("c", "host:3", 5, 20, types.AgentFree, 50)
	_ = r.Heartbeat("busy", "host:4", 1, 1, types.AgentBusy, 50)

	sel, err := r.Select()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.AgentID != "c" {
		t.Fatalf("expected agent c (min cpu, then min memory), got %s", sel.AgentID)
	}
}

func TestSelectFailsWhenNoneFresh(t *testing.T) {
	r := New(5 * time.Millisecond)
	_ = r.Heartbeat("a1", "host:1", 1, 1, types.AgentFree, 50)
	time.Sleep(10 * time.Millisecond)

	if _, err := r.Select(); err != ErrNoAgentsAvailable {
		t.Fatalf("expected ErrNoAgentsAvailable, got %v", err)
	}
}

func TestSelectFailsWhenNoneFree(t *testing.T) {
	r := New(time.Minute)
	_ = r.Heartbeat("a1", "host:1", 1, 1, types.AgentBusy, 50)

	if _, err := r.Select(); err != ErrNoAgentsAvailable {
		t.Fatalf("expected ErrNoAgentsAvailable, got %v", err)
	}
}
