// Package manager is the single coordinator every agent/project
// mutation flows through, keeping the store, mux adapter, and bus
// consistent with each other.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antigravity-dev/warden/internal/bus"
	"github.com/antigravity-dev/warden/internal/config"
	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/muxadapter"
	"github.com/antigravity-dev/warden/internal/provider"
	"github.com/antigravity-dev/warden/internal/store"
	"github.com/antigravity-dev/warden/internal/subscription"
)

// Manager owns write access to Store and Bus; no other component
// mutates either directly.
type Manager struct {
	store         *store.Store
	bus           *bus.Bus
	mux           *muxadapter.Adapter
	providers     *provider.Registry
	subscriptions *subscription.Registry
	cfg           *config.Manager
	logger        *slog.Logger

	agentLocksMu sync.Mutex
	agentLocks   map[string]*sync.Mutex
}

// New wires a Manager over its dependencies.
func New(s *store.Store, b *bus.Bus, mux *muxadapter.Adapter, providers *provider.Registry, subs *subscription.Registry, cfg *config.Manager, logger *slog.Logger) *Manager {
	return &Manager{
		store:         s,
		bus:           b,
		mux:           mux,
		providers:     providers,
		subscriptions: subs,
		cfg:           cfg,
		logger:        logger,
		agentLocks:    make(map[string]*sync.Mutex),
	}
}

// agentLock returns the per-agent mutex serializing manager writes and
// poller reads/writes against a single agent, allocating it on first use.
func (m *Manager) agentLock(project, id string) *sync.Mutex {
	key := project + "/" + id
	m.agentLocksMu.Lock()
	defer m.agentLocksMu.Unlock()
	l, ok := m.agentLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.agentLocks[key] = l
	}
	return l
}

func (m *Manager) dropAgentLock(project, id string) {
	key := project + "/" + id
	m.agentLocksMu.Lock()
	delete(m.agentLocks, key)
	m.agentLocksMu.Unlock()
}

// CreateProject creates the project's mux session and registers it in
// the store.
func (m *Manager) CreateProject(ctx context.Context, name, cwd string, callback *domain.Callback) (domain.Project, error) {
	if !ValidProjectName(name) {
		return domain.Project{}, fmt.Errorf("%w: project name %q", ErrInvalidName, name)
	}

	session := m.sessionName(name)
	p := &domain.Project{
		Name:       name,
		Cwd:        cwd,
		CreatedAt:  time.Now(),
		MuxSession: session,
		Callback:   callback,
	}

	if !m.store.CreateProject(p) {
		return domain.Project{}, ErrProjectExists
	}

	if err := m.mux.CreateSession(ctx, session, cwd); err != nil {
		m.store.DeleteProject(name)
		return domain.Project{}, fmt.Errorf("%w: %v", ErrMuxUnavailable, err)
	}

	return *p, nil
}

func (m *Manager) sessionName(project string) string {
	prefix := "ah"
	if m.cfg != nil {
		prefix = m.cfg.Get().General.MuxPrefix
	}
	return prefix + "-" + project
}

// DeleteProject deletes every agent in the project, then its mux
// session.
func (m *Manager) DeleteProject(ctx context.Context, name string) error {
	p, ok := m.store.GetProject(name)
	if !ok {
		return ErrProjectNotFound
	}

	for _, a := range m.store.ListAgentsByProject(name) {
		if err := m.DeleteAgent(ctx, name, a.ID); err != nil {
			m.logger.Warn("delete project: agent cleanup failed", "project", name, "agent", a.ID, "error", err)
		}
	}

	if err := m.mux.KillSession(ctx, p.MuxSession); err != nil {
		m.logger.Warn("delete project: kill session failed", "project", name, "error", err)
	}
	m.store.DeleteProject(name)
	return nil
}

// UpdateProject replaces the project's default callback.
func (m *Manager) UpdateProject(name string, callback *domain.Callback) (domain.Project, error) {
	p, ok := m.store.GetProject(name)
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	p.Callback = callback
	m.store.UpdateProject(&p)
	return p, nil
}

// GetProject returns the named project.
func (m *Manager) GetProject(name string) (domain.Project, error) {
	p, ok := m.store.GetProject(name)
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	return p, nil
}

// ListProjects returns every project.
func (m *Manager) ListProjects() []domain.Project {
	return m.store.ListProjects()
}

// ListAgents returns every agent in project.
func (m *Manager) ListAgents(project string) ([]domain.Agent, error) {
	if _, ok := m.store.GetProject(project); !ok {
		return nil, ErrProjectNotFound
	}
	return m.store.ListAgentsByProject(project), nil
}

// GetAgent returns a single agent.
func (m *Manager) GetAgent(project, id string) (domain.Agent, error) {
	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return domain.Agent{}, ErrAgentNotFound
	}
	return a, nil
}

// emit is a small convenience wrapper so lifecycle code doesn't repeat
// domain.NormalizedEvent{...} boilerplate.
func (m *Manager) emit(project, agentID string, typ domain.EventType, data map[string]any) domain.NormalizedEvent {
	return m.bus.Emit(domain.NormalizedEvent{
		Ts:      time.Now(),
		Project: project,
		AgentID: agentID,
		Type:    typ,
		Data:    data,
	})
}
