package manager

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/antigravity-dev/warden/internal/bus"
	"github.com/antigravity-dev/warden/internal/config"
	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/muxadapter"
	"github.com/antigravity-dev/warden/internal/provider"
	"github.com/antigravity-dev/warden/internal/store"
	"github.com/antigravity-dev/warden/internal/subscription"
)

func testManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	cfgMgr, err := config.NewManager("")
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	st := store.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mgr := New(st, bus.New(100), muxadapter.New(), provider.NewRegistry(), subscription.NewRegistry(nil), cfgMgr, logger)
	return mgr, st
}

func TestCanTransition(t *testing.T) {
	if CanTransition(domain.StatusStarting, domain.StatusStarting) {
		t.Error("a status should not transition to itself")
	}
	if !CanTransition(domain.StatusStarting, domain.StatusIdle) {
		t.Error("expected starting -> idle to be legal")
	}
	if CanTransition(domain.StatusExited, domain.StatusIdle) {
		t.Error("exited should be terminal")
	}
	if !CanTransition(domain.StatusError, domain.StatusIdle) {
		t.Error("expected error -> idle recovery to be legal")
	}
}

func TestUpdateAgentStatus(t *testing.T) {
	mgr, st := testManager(t)
	st.CreateProject(&domain.Project{Name: "p1"})
	st.CreateAgent(&domain.Agent{Project: "p1", ID: "a1", Status: domain.StatusStarting})

	if err := mgr.UpdateAgentStatus(context.Background(), "p1", "a1", domain.StatusIdle, domain.SourceUIParser); err != nil {
		t.Fatalf("expected legal transition to succeed: %v", err)
	}
	a, _ := st.GetAgent("p1", "a1")
	if a.Status != domain.StatusIdle {
		t.Errorf("expected idle, got %s", a.Status)
	}
	if a.StatusSource != domain.SourceUIParser {
		t.Errorf("expected source recorded, got %s", a.StatusSource)
	}

	if err := mgr.UpdateAgentStatus(context.Background(), "p1", "a1", domain.StatusIdle, domain.SourceUIParser); err != nil {
		t.Errorf("a same-status update should be a no-op, not an error: %v", err)
	}

	if err := mgr.UpdateAgentStatus(context.Background(), "p1", "missing", domain.StatusIdle, domain.SourceUIParser); err != ErrAgentNotFound {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestUpdateAgentStatus_IllegalTransitionRejected(t *testing.T) {
	mgr, st := testManager(t)
	st.CreateProject(&domain.Project{Name: "p1"})
	st.CreateAgent(&domain.Agent{Project: "p1", ID: "a1", Status: domain.StatusExited})

	if err := mgr.UpdateAgentStatus(context.Background(), "p1", "a1", domain.StatusIdle, domain.SourceUIParser); err == nil {
		t.Error("expected an error transitioning out of the terminal exited state")
	}
}

func TestUpdateAgentOutput(t *testing.T) {
	mgr, st := testManager(t)
	st.CreateProject(&domain.Project{Name: "p1"})
	st.CreateAgent(&domain.Agent{Project: "p1", ID: "a1"})

	if err := mgr.UpdateAgentOutput("p1", "a1", "hello", true); err != nil {
		t.Fatalf("UpdateAgentOutput: %v", err)
	}
	a, _ := st.GetAgent("p1", "a1")
	if a.LastCapturedOutput != "hello" {
		t.Errorf("expected captured output recorded, got %q", a.LastCapturedOutput)
	}
	if a.LastDiffAt.IsZero() {
		t.Error("expected lastDiffAt to be set when diffDetected=true")
	}
}

func TestUpdateAgentOutput_NoDiffLeavesLastDiffAtAlone(t *testing.T) {
	mgr, st := testManager(t)
	st.CreateProject(&domain.Project{Name: "p1"})
	fixed := time.Now().Add(-time.Hour)
	st.CreateAgent(&domain.Agent{Project: "p1", ID: "a1", LastDiffAt: fixed})

	if err := mgr.UpdateAgentOutput("p1", "a1", "hello", false); err != nil {
		t.Fatalf("UpdateAgentOutput: %v", err)
	}
	a, _ := st.GetAgent("p1", "a1")
	if !a.LastDiffAt.Equal(fixed) {
		t.Errorf("expected lastDiffAt unchanged, got %v", a.LastDiffAt)
	}
}

func TestUpdateAgentLastMessage(t *testing.T) {
	mgr, st := testManager(t)
	st.CreateProject(&domain.Project{Name: "p1"})
	st.CreateAgent(&domain.Agent{Project: "p1", ID: "a1"})

	if err := mgr.UpdateAgentLastMessage("p1", "a1", "hello there"); err != nil {
		t.Fatalf("UpdateAgentLastMessage: %v", err)
	}
	a, _ := st.GetAgent("p1", "a1")
	if a.LastTextMessage == nil || *a.LastTextMessage != "hello there" {
		t.Errorf("expected last text message recorded, got %v", a.LastTextMessage)
	}

	if err := mgr.UpdateAgentLastMessage("p1", "missing", "x"); err != ErrAgentNotFound {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestEmitEventAndGetAgentDebug(t *testing.T) {
	mgr, st := testManager(t)
	st.CreateProject(&domain.Project{Name: "p1"})
	st.CreateAgent(&domain.Agent{Project: "p1", ID: "a1", MuxTarget: "ah-p1:a1.0"})

	mgr.EmitEvent("p1", "a1", domain.EventOutput, map[string]any{"text": "hi"})

	bundle, err := mgr.GetAgentDebug(context.Background(), "p1", "a1", nil)
	if err != nil {
		t.Fatalf("GetAgentDebug: %v", err)
	}
	if bundle.Agent.ID != "a1" {
		t.Errorf("expected agent a1 in bundle, got %s", bundle.Agent.ID)
	}

	if _, err := mgr.GetAgentDebug(context.Background(), "p1", "missing", nil); err != ErrAgentNotFound {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}
