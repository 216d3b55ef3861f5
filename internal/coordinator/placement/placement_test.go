package placement

import (
	"testing"
	"time"

	"github.com/danpasecinic/deployd/internal/types"
)

func TestGetUnknownDeployment(t *testing.T) {
	s := New()
	if _, err := s.Get("missing"); err != ErrUnknownDeployment {
		t.Fatalf("expected ErrUnknownDeployment, got %v", err)
	}
}

func TestAddAndGet(t *testing.T) {
	s := New()
	s.Add(types.Deployment{DeploymentID: "d1", Status: types.StatusRunning})

	got, err := s.Get("d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != types.StatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
}

func TestSetStatusStampsFinishedAtOnce(t *testing.T) {
	s := New()
	s.Add(types.Deployment{DeploymentID: "d1", Status: types.StatusRunning})

	if err := s.SetStatus("d1", types.StatusCancelled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, _ := s.Get("d1")
	if d.FinishedAt == nil {
		t.Fatalf("expected FinishedAt to be stamped")
	}
	first := *d.FinishedAt

	time.Sleep(time.Millisecond)
	_ = s.SetStatus("d1", types.StatusCancelled)
	d, _ = s.Get("d1")
	if !d.FinishedAt.Equal(first) {
		t.Fatalf("FinishedAt should not move once terminal")
	}
}

func TestPruneOnlyRemovesOldTerminalDeployments(t *testing.T) {
	s := New()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }

	old := fixedNow.Add(-2 * time.Hour)
	s.Add(types.Deployment{DeploymentID: "old-terminal", Status: types.StatusCompleted, FinishedAt: &old})
	s.Add(types.Deployment{DeploymentID: "running", Status: types.StatusRunning})
	recent := fixedNow.Add(-time.Minute)
	s.Add(types.Deployment{DeploymentID: "recent-terminal", Status: types.StatusFailed, FinishedAt: &recent})

	result := s.Prune(time.Hour)
	if result.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", result.Removed)
	}

	if _, err := s.Get("old-terminal"); err != ErrUnknownDeployment {
		t.Fatalf("expected old-terminal pruned")
	}
	if _, err := s.Get("running"); err != nil {
		t.Fatalf("running deployment should survive: %v", err)
	}
	if _, err := s.Get("recent-terminal"); err != nil {
		t.Fatalf("recent terminal deployment should survive: %v", err)
	}
}
