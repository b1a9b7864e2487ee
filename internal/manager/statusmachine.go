package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/warden/internal/domain"
)

// validTransitions encodes the status state machine table. exited is
// terminal; every other state may also transition to error or exited.
var validTransitions = map[domain.AgentStatus]map[domain.AgentStatus]bool{
	domain.StatusStarting: {
		domain.StatusIdle: true, domain.StatusProcessing: true, domain.StatusWaitingInput: true,
		domain.StatusError: true, domain.StatusExited: true,
	},
	domain.StatusIdle: {
		domain.StatusProcessing: true, domain.StatusWaitingInput: true,
		domain.StatusError: true, domain.StatusExited: true,
	},
	domain.StatusProcessing: {
		domain.StatusIdle: true, domain.StatusWaitingInput: true,
		domain.StatusError: true, domain.StatusExited: true,
	},
	domain.StatusWaitingInput: {
		domain.StatusIdle: true, domain.StatusProcessing: true,
		domain.StatusError: true, domain.StatusExited: true,
	},
	domain.StatusError: {
		domain.StatusIdle: true, domain.StatusProcessing: true, domain.StatusWaitingInput: true,
		domain.StatusExited: true,
	},
	domain.StatusExited: {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to domain.AgentStatus) bool {
	if from == to {
		return false
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// UpdateAgentStatus transitions an agent's status if the move is legal,
// updating the store before emitting status_changed so any reader
// observing the event can re-read the store and see the new status.
func (m *Manager) UpdateAgentStatus(ctx context.Context, project, id string, newStatus domain.AgentStatus, source domain.StatusSource) error {
	lock := m.agentLock(project, id)
	lock.Lock()
	defer lock.Unlock()

	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return ErrAgentNotFound
	}
	if a.Status == newStatus {
		return nil
	}
	if !CanTransition(a.Status, newStatus) {
		return fmt.Errorf("manager: illegal status transition %s -> %s", a.Status, newStatus)
	}

	from := a.Status
	a.Status = newStatus
	a.StatusSource = source
	a.LastActivity = time.Now()
	m.store.UpdateAgent(&a)

	m.emit(project, id, domain.EventStatusChanged, domain.StatusChangedData(from, newStatus, source))

	if newStatus == domain.StatusExited {
		m.emit(project, id, domain.EventAgentExited, map[string]any{"exitCode": nil})
	}
	return nil
}

// UpdateAgentOutput records the most recent capture and, when a non-empty
// diff was observed, updates lastDiffAt. It does not itself emit events —
// the poller emits the ProviderEvents it derives from the diff.
func (m *Manager) UpdateAgentOutput(project, id, raw string, diffDetected bool) error {
	lock := m.agentLock(project, id)
	lock.Lock()
	defer lock.Unlock()

	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return ErrAgentNotFound
	}
	a.LastCapturedOutput = raw
	if diffDetected {
		a.LastDiffAt = time.Now()
		a.LastActivity = time.Now()
	}
	m.store.UpdateAgent(&a)
	return nil
}

// UpdateAgentLastMessage records the body of the most recently classified
// assistant text event, for consumers (webhook payloads, messages/last)
// that want the last parsed message rather than the raw pane capture.
func (m *Manager) UpdateAgentLastMessage(project, id, text string) error {
	lock := m.agentLock(project, id)
	lock.Lock()
	defer lock.Unlock()

	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return ErrAgentNotFound
	}
	a.LastTextMessage = &text
	m.store.UpdateAgent(&a)
	return nil
}

// EmitEvent lets the poller publish NormalizedEvents derived from
// provider-level diff classification without reaching into the bus
// directly.
func (m *Manager) EmitEvent(project, agentID string, typ domain.EventType, data map[string]any) {
	m.emit(project, agentID, typ, data)
}

// DebugBundle is the diagnostic payload for GET .../debug.
type DebugBundle struct {
	Agent        domain.Agent              `json:"agent"`
	PaneVars     map[string]string         `json:"paneVars"`
	RecentEvents []domain.NormalizedEvent  `json:"recentEvents"`
}

// GetAgentDebug assembles pane vars, current state, and recent events for
// a single agent.
func (m *Manager) GetAgentDebug(ctx context.Context, project, id string, recent []domain.NormalizedEvent) (DebugBundle, error) {
	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return DebugBundle{}, ErrAgentNotFound
	}

	vars := map[string]string{}
	for _, v := range []string{"pane_dead", "pane_current_command", "pane_dead_status"} {
		if val, err := m.mux.GetPaneVar(ctx, a.MuxTarget, v); err == nil {
			vars[v] = val
		}
	}

	return DebugBundle{Agent: a, PaneVars: vars, RecentEvents: recent}, nil
}
