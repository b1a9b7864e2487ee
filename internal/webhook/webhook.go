// Package webhook subscribes to the bus, filters to terminal/error
// events on agents carrying a callback, and delivers them over HTTP with
// bounded retry. Each agent's deliveries are serialized through its own
// queue so a slow receiver never stalls unrelated agents.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/antigravity-dev/warden/internal/bus"
	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/google/uuid"
)

// retryDelays is the fixed, jitterless backoff ladder
// requires: 500, 1000, 2000, 4000, 8000 ms, capped at 10s.
var retryDelays = []time.Duration{
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	4000 * time.Millisecond,
	8000 * time.Millisecond,
}

const maxAttempts = 5
const maxQueueDepth = 256

// Payload is the JSON body posted to a callback URL.
type Payload struct {
	Event          domain.EventType `json:"event"`
	Project        string           `json:"project"`
	AgentID        string           `json:"agentId"`
	Provider       string           `json:"provider"`
	Status         domain.AgentStatus `json:"status"`
	LastMessage    *string          `json:"lastMessage"`
	Timestamp      time.Time        `json:"timestamp"`
	DiscordChannel string           `json:"discordChannel,omitempty"`
	SessionKey     string           `json:"sessionKey,omitempty"`
	Extra          map[string]any   `json:"extra,omitempty"`
}

// DeliveryResult records the terminal outcome of one dispatch attempt,
// surfaced through the diagnostics endpoints.
type DeliveryResult struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	URL       string    `json:"url"`
	Attempts  int       `json:"attempts"`
	Success   bool      `json:"success"`
	LastError string    `json:"lastError,omitempty"`
	At        time.Time `json:"at"`
}

// queue is one agent's bounded, drop-oldest, serialized delivery buffer.
type queue struct {
	mu      sync.Mutex
	pending []Payload
	running bool
}

// Dispatcher delivers bus events as outbound webhook POSTs.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	queues  map[string]*queue
	results []DeliveryResult

	resolveCallback func(project, agentID string) (*domain.Callback, string)
	lastMessage     func(project, agentID string) *string
}

// New returns a Dispatcher. resolveCallback resolves both the effective
// callback and the agent's provider tag; lastMessage resolves the body
// of the agent's most recent assistant text event. Both are supplied by
// the caller so the dispatcher never touches the store directly.
func New(client *http.Client, logger *slog.Logger, resolveCallback func(project, agentID string) (*domain.Callback, string), lastMessage func(project, agentID string) *string) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		client:          client,
		logger:          logger,
		queues:          make(map[string]*queue),
		resolveCallback: resolveCallback,
		lastMessage:     lastMessage,
	}
}

// terminalTypes is the bus filter this dispatcher subscribes with.
func terminalTypes() map[domain.EventType]struct{} {
	return map[domain.EventType]struct{}{
		domain.EventAgentExited:   {},
		domain.EventError:         {},
		domain.EventStatusChanged: {},
	}
}

// Subscribe wires the dispatcher onto b and returns the unsubscribe func.
func (d *Dispatcher) Subscribe(b *bus.Bus) func() {
	return b.Subscribe(bus.Filter{Types: terminalTypes()}, d.handle)
}

func (d *Dispatcher) handle(e domain.NormalizedEvent) {
	if e.AgentID == "" {
		return
	}
	if !isTerminalForWebhook(e) {
		return
	}
	cb, providerTag := d.resolveCallback(e.Project, e.AgentID)
	if cb == nil || cb.URL == "" {
		return
	}

	payload := Payload{
		Event:          e.Type,
		Project:        e.Project,
		AgentID:        e.AgentID,
		Provider:       providerTag,
		Timestamp:      e.Ts,
		DiscordChannel: cb.DiscordChannel,
		SessionKey:     cb.SessionKey,
		LastMessage:    d.lastMessage(e.Project, e.AgentID),
	}
	if status, ok := e.Data["to"].(domain.AgentStatus); ok {
		payload.Status = status
	}

	d.enqueue(e.AgentID, cb.URL, cb.Token, payload)
}

// isTerminalForWebhook narrows status_changed events to the three target
// statuses that qualify for webhook delivery; agent_exited and error always qualify.
func isTerminalForWebhook(e domain.NormalizedEvent) bool {
	if e.Type != domain.EventStatusChanged {
		return true
	}
	to, _ := e.Data["to"].(domain.AgentStatus)
	switch to {
	case domain.StatusIdle, domain.StatusError, domain.StatusExited:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) enqueue(agentID, url, token string, payload Payload) {
	d.mu.Lock()
	q, ok := d.queues[agentID]
	if !ok {
		q = &queue{}
		d.queues[agentID] = q
	}
	d.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, payload)
	if len(q.pending) > maxQueueDepth {
		q.pending = q.pending[len(q.pending)-maxQueueDepth:]
	}
	alreadyRunning := q.running
	q.running = true
	q.mu.Unlock()

	if !alreadyRunning {
		go d.drain(agentID, url, token, q)
	}
}

func (d *Dispatcher) drain(agentID, url, token string, q *queue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		d.deliver(agentID, url, token, next)
	}
}

func (d *Dispatcher) deliver(agentID, url, token string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("webhook: marshal payload failed", "agent", agentID, "error", err)
		return
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.post(ctx, url, token, body)
		cancel()

		if err == nil {
			d.recordResult(agentID, url, attempt, true, "")
			return
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		if attempt < maxAttempts {
			time.Sleep(retryDelays[attempt-1])
		}
	}

	d.logger.Warn("webhook: delivery failed permanently", "agent", agentID, "url", url, "error", lastErr)
	d.recordResult(agentID, url, attempts, false, lastErr.Error())
}

// statusError carries an HTTP status code so isRetryable can branch on it.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (d *Dispatcher) post(ctx context.Context, url, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &statusError{code: resp.StatusCode, body: string(out)}
}

func isRetryable(err error) bool {
	var se *statusError
	if !asStatusError(err, &se) {
		// Transport-level failure (DNS, connection refused, timeout).
		return true
	}
	if se.code == http.StatusRequestTimeout || se.code == http.StatusTooManyRequests {
		return true
	}
	return se.code >= 500
}

func asStatusError(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	*target = se
	return true
}

func (d *Dispatcher) recordResult(agentID, url string, attempts int, success bool, lastErr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, DeliveryResult{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		URL:       url,
		Attempts:  attempts,
		Success:   success,
		LastError: lastErr,
		At:        time.Now(),
	})
	if len(d.results) > 1000 {
		d.results = d.results[len(d.results)-1000:]
	}
}

// Status returns recent delivery results for the diagnostics endpoint.
func (d *Dispatcher) Status() []DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeliveryResult, len(d.results))
	copy(out, d.results)
	return out
}

// ProbeReceiver performs a single zero-retry POST of a synthetic payload,
// for operators verifying connectivity without waiting on a real event.
func (d *Dispatcher) ProbeReceiver(ctx context.Context, url, token string) error {
	payload := Payload{
		Event:     domain.EventHeartbeat,
		Project:   "probe",
		AgentID:   "probe",
		Timestamp: time.Now(),
		Extra:     map[string]any{"synthetic": true},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.post(ctx, url, token, body)
}
