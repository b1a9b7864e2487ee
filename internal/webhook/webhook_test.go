package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/antigravity-dev/warden/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIsTerminalForWebhook(t *testing.T) {
	cases := []struct {
		name string
		evt  domain.NormalizedEvent
		want bool
	}{
		{"agent_exited always qualifies", domain.NormalizedEvent{Type: domain.EventAgentExited}, true},
		{"error always qualifies", domain.NormalizedEvent{Type: domain.EventError}, true},
		{"status_changed to idle qualifies", domain.NormalizedEvent{Type: domain.EventStatusChanged, Data: map[string]any{"to": domain.StatusIdle}}, true},
		{"status_changed to error qualifies", domain.NormalizedEvent{Type: domain.EventStatusChanged, Data: map[string]any{"to": domain.StatusError}}, true},
		{"status_changed to exited qualifies", domain.NormalizedEvent{Type: domain.EventStatusChanged, Data: map[string]any{"to": domain.StatusExited}}, true},
		{"status_changed to processing does not qualify", domain.NormalizedEvent{Type: domain.EventStatusChanged, Data: map[string]any{"to": domain.StatusProcessing}}, false},
	}
	for _, c := range cases {
		if got := isTerminalForWebhook(c.evt); got != c.want {
			t.Errorf("%s: isTerminalForWebhook = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestHandleDeliversOnQualifyingEvent(t *testing.T) {
	var mu sync.Mutex
	var received *Payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		received = &p
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cb := &domain.Callback{URL: server.URL, Token: "tok"}
	d := New(server.Client(), testLogger(),
		func(project, agentID string) (*domain.Callback, string) { return cb, "claude-code" },
		func(project, agentID string) *string { return nil },
	)

	d.handle(domain.NormalizedEvent{
		Type:    domain.EventAgentExited,
		Project: "proj",
		AgentID: "agent1",
		Ts:      time.Now(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := received
		mu.Unlock()
		if got != nil {
			if got.AgentID != "agent1" || got.Project != "proj" {
				t.Errorf("unexpected payload: %+v", got)
			}
			if got.Provider != "claude-code" {
				t.Errorf("expected provider to be threaded through, got %q", got.Provider)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for webhook delivery")
}

func TestHandleSkipsWithoutCallback(t *testing.T) {
	called := false
	d := New(&http.Client{}, testLogger(),
		func(project, agentID string) (*domain.Callback, string) {
			called = true
			return nil, ""
		},
		func(project, agentID string) *string { return nil },
	)
	d.handle(domain.NormalizedEvent{Type: domain.EventAgentExited, Project: "p", AgentID: "a"})
	if !called {
		t.Error("expected resolveCallback to be consulted")
	}
	if len(d.queues) != 0 {
		t.Errorf("expected no delivery queued without a callback, got %d queue(s)", len(d.queues))
	}
}

func TestHandleSkipsEventsWithoutAgentID(t *testing.T) {
	resolveCalled := false
	d := New(&http.Client{}, testLogger(),
		func(project, agentID string) (*domain.Callback, string) {
			resolveCalled = true
			return &domain.Callback{URL: "http://example.com"}, "codex"
		},
		func(project, agentID string) *string { return nil },
	)
	d.handle(domain.NormalizedEvent{Type: domain.EventAgentExited, Project: "p"})
	if resolveCalled {
		t.Error("expected events without an agent id to be skipped before resolving a callback")
	}
}

func TestDeliverRetriesOnServerError(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New(server.Client(), testLogger(), nil, nil)
	d.deliver("agent1", server.URL, "", Payload{Event: domain.EventAgentExited})

	results := d.Status()
	if len(results) != 1 {
		t.Fatalf("expected 1 recorded result, got %d", len(results))
	}
	if !results[0].Success {
		t.Errorf("expected eventual success after retry, got %+v", results[0])
	}
	if results[0].Attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", results[0].Attempts)
	}
}

func TestDeliverDoesNotRetryOnClientError(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := New(server.Client(), testLogger(), nil, nil)
	d.deliver("agent1", server.URL, "", Payload{Event: domain.EventAgentExited})

	mu.Lock()
	n := attempts
	mu.Unlock()
	if n != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable status, got %d", n)
	}
	results := d.Status()
	if len(results) != 1 || results[0].Success {
		t.Errorf("expected 1 failed result, got %+v", results)
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(&statusError{code: http.StatusInternalServerError}) {
		t.Error("expected 5xx to be retryable")
	}
	if !isRetryable(&statusError{code: http.StatusTooManyRequests}) {
		t.Error("expected 429 to be retryable")
	}
	if isRetryable(&statusError{code: http.StatusBadRequest}) {
		t.Error("expected 400 to not be retryable")
	}
	if !isRetryable(io.ErrUnexpectedEOF) {
		t.Error("expected a non-status error (transport failure) to be retryable")
	}
}

func TestProbeReceiverSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New(server.Client(), testLogger(), nil, nil)
	if err := d.ProbeReceiver(context.Background(), server.URL, "tok"); err != nil {
		t.Errorf("ProbeReceiver: %v", err)
	}
}

func TestProbeReceiverFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := New(server.Client(), testLogger(), nil, nil)
	if err := d.ProbeReceiver(context.Background(), server.URL, ""); err == nil {
		t.Error("expected ProbeReceiver to surface a server error")
	}
}

func TestStatusResultsAreCopies(t *testing.T) {
	d := New(&http.Client{}, testLogger(), nil, nil)
	d.recordResult("a", "http://x", 1, true, "")

	results := d.Status()
	results[0].AgentID = "mutated"

	again := d.Status()
	if again[0].AgentID == "mutated" {
		t.Error("expected Status to return an independent copy")
	}
}
