// Package domain holds the shared types that flow between the store,
// manager, poller, bus, and API: projects, agents, callbacks and the
// normalized event shape published on the bus.
package domain

import "time"

// AgentStatus is one node of the manager's status state machine.
type AgentStatus string

const (
	StatusStarting      AgentStatus = "starting"
	StatusIdle          AgentStatus = "idle"
	StatusProcessing    AgentStatus = "processing"
	StatusWaitingInput  AgentStatus = "waiting_input"
	StatusError         AgentStatus = "error"
	StatusExited        AgentStatus = "exited"
)

// StatusSource labels what drove a status transition.
type StatusSource string

const (
	SourceInternals StatusSource = "internals"
	SourceUIParser  StatusSource = "ui-parser"
	SourcePaneDead  StatusSource = "pane-dead"
	SourceDelete    StatusSource = "delete"
	SourceCreate    StatusSource = "create"
)

// Callback is the optional outbound-notification target attached to a
// project (as a default) or an agent (overriding the project default).
type Callback struct {
	URL            string `json:"url,omitempty" toml:"url,omitempty"`
	Token          string `json:"token,omitempty" toml:"token,omitempty"`
	DiscordChannel string `json:"discordChannel,omitempty" toml:"discordChannel,omitempty"`
	SessionKey     string `json:"sessionKey,omitempty" toml:"sessionKey,omitempty"`
}

// Empty reports whether the callback carries no destination.
func (c *Callback) Empty() bool {
	return c == nil || c.URL == ""
}

// Project groups agents under a shared working directory and mux session.
type Project struct {
	Name        string    `json:"name"`
	Cwd         string    `json:"cwd"`
	CreatedAt   time.Time `json:"createdAt"`
	MuxSession  string    `json:"muxSession"`
	Callback    *Callback `json:"callback,omitempty"`
}

// Agent is a single provider CLI process hosted in one mux window.
type Agent struct {
	ID       string `json:"id"`
	Project  string `json:"project"`
	Provider string `json:"provider"`
	Task     string `json:"task"`
	Model    string `json:"model,omitempty"`

	SubscriptionID string `json:"subscriptionId,omitempty"`

	Status       AgentStatus  `json:"status"`
	StatusSource StatusSource `json:"statusSource,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`

	LastCapturedOutput string    `json:"-"`
	LastDiffAt         time.Time `json:"lastDiffAt,omitempty"`

	// LastTextMessage holds the body of the most recently classified
	// assistant text event, distinct from LastCapturedOutput's raw
	// pane scrollback.
	LastTextMessage *string `json:"-"`

	WindowName     string `json:"windowName"`
	MuxTarget      string `json:"muxTarget"`
	AttachCommand  string `json:"attachCommand"`

	Callback *Callback `json:"callback,omitempty"`

	ProviderRuntimeDir  string `json:"providerRuntimeDir,omitempty"`
	ProviderSessionFile string `json:"providerSessionFile,omitempty"`

	LogPath string `json:"-"`
}

// EffectiveCallback returns the agent's own callback, falling back to the
// project default.
func (a *Agent) EffectiveCallback(p *Project) *Callback {
	if a.Callback != nil && !a.Callback.Empty() {
		return a.Callback
	}
	if p != nil && p.Callback != nil && !p.Callback.Empty() {
		return p.Callback
	}
	return nil
}

// EventType discriminates a NormalizedEvent's payload shape.
type EventType string

const (
	EventAgentStarted        EventType = "agent_started"
	EventStatusChanged       EventType = "status_changed"
	EventOutput              EventType = "output"
	EventToolUse             EventType = "tool_use"
	EventToolResult          EventType = "tool_result"
	EventError               EventType = "error"
	EventAgentExited         EventType = "agent_exited"
	EventInputSent           EventType = "input_sent"
	EventPermissionRequested EventType = "permission_requested"
	EventQuestionAsked       EventType = "question_asked"
	EventUnknown             EventType = "unknown"
	EventHeartbeat           EventType = "heartbeat"
)

// NormalizedEvent is the daemon's canonical, bus-published event shape.
// Data carries the type-specific payload; the HTTP/SSE layer is the only
// place that encodes/decodes it to JSON.
type NormalizedEvent struct {
	ID      string    `json:"id"`
	Ts      time.Time `json:"ts"`
	Project string    `json:"project"`
	AgentID string    `json:"agentId,omitempty"`
	Type    EventType `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
}

// StatusChangedData builds the payload for a status_changed event.
func StatusChangedData(from, to AgentStatus, source StatusSource) map[string]any {
	d := map[string]any{"from": from, "to": to}
	if source != "" {
		d["source"] = source
	}
	return d
}
