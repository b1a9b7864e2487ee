package muxadapter

import (
	"context"
	"testing"
	"time"
)

func requireTmux(t *testing.T) *Adapter {
	t.Helper()
	a := New()
	if !a.IsAvailable() {
		t.Skip("tmux binary not available in this environment")
	}
	return a
}

func TestNewDefaults(t *testing.T) {
	a := New()
	if a.Binary != "tmux" {
		t.Errorf("expected default binary tmux, got %s", a.Binary)
	}
	if a.SettleDelay != defaultSettleDelay {
		t.Errorf("expected default settle delay, got %s", a.SettleDelay)
	}
}

func TestBinFallsBackWhenEmpty(t *testing.T) {
	a := &Adapter{}
	if a.bin() != "tmux" {
		t.Errorf("expected bin() to fall back to tmux, got %s", a.bin())
	}
}

func TestIsAvailableWithBogusBinary(t *testing.T) {
	a := &Adapter{Binary: "definitely-not-a-real-binary-xyz"}
	if a.IsAvailable() {
		t.Error("expected IsAvailable to be false for a nonexistent binary")
	}
}

func TestIsNoServerRunning(t *testing.T) {
	if !isNoServerRunning(errForTest("no server running on /tmp/foo")) {
		t.Error("expected 'no server running' to be recognized")
	}
	if isNoServerRunning(errForTest("some other failure")) {
		t.Error("expected unrelated error to not match")
	}
}

type errForTest string

func (e errForTest) Error() string { return string(e) }

func TestSessionLifecycle(t *testing.T) {
	a := requireTmux(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := "warden-test-session"
	a.KillSession(ctx, name)
	defer a.KillSession(ctx, name)

	if err := a.CreateSession(ctx, name, "/tmp"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !a.HasSession(ctx, name) {
		t.Error("expected HasSession to be true after creation")
	}

	if err := a.CreateSession(ctx, name, "/tmp"); err != nil {
		t.Errorf("expected CreateSession to be idempotent, got %v", err)
	}

	if err := a.KillSession(ctx, name); err != nil {
		t.Errorf("KillSession: %v", err)
	}
	if a.HasSession(ctx, name) {
		t.Error("expected HasSession to be false after KillSession")
	}
}

func TestGetPaneVarAndSendInput(t *testing.T) {
	a := requireTmux(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := "warden-test-paneinput"
	a.KillSession(ctx, name)
	defer a.KillSession(ctx, name)

	if err := a.CreateSession(ctx, name, "/tmp"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	val, err := a.GetPaneVar(ctx, name, "pane_dead")
	if err != nil {
		t.Fatalf("GetPaneVar: %v", err)
	}
	if val != "0" && val != "1" {
		t.Errorf("expected pane_dead to be 0 or 1, got %q", val)
	}

	a.SettleDelay = time.Millisecond
	if err := a.SendInput(ctx, name, "echo hi"); err != nil {
		t.Errorf("SendInput: %v", err)
	}
}

func TestListSessionsFiltersByPrefix(t *testing.T) {
	a := requireTmux(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := "warden-test-list"
	a.KillSession(ctx, name)
	defer a.KillSession(ctx, name)

	if err := a.CreateSession(ctx, name, "/tmp"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sessions, err := a.ListSessions(ctx, "warden-test-list")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	found := false
	for _, s := range sessions {
		if s.Name == name {
			found = true
		}
	}
	if !found {
		t.Errorf("expected to find session %s in %+v", name, sessions)
	}
}

func TestLivenessProbeReflectsAvailability(t *testing.T) {
	a := requireTmux(t)
	p := NewLivenessProbe(a, time.Second)
	if !p.Available() {
		t.Error("expected the probe to report available when tmux is installed")
	}
}

func TestLivenessProbeUnavailableBinary(t *testing.T) {
	a := &Adapter{Binary: "definitely-not-a-real-binary-xyz"}
	p := NewLivenessProbe(a, time.Second)
	if p.Available() {
		t.Error("expected the probe to report unavailable for a bogus binary")
	}
}
