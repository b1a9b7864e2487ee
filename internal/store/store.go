// Package store is the process-local, in-memory index of projects and
// agents. It performs no locking of its own beyond what is documented:
// every exported method is safe for concurrent use, but the manager is
// the sole mutation funnel — the lock here exists to
// make concurrent reads safe, not to serialize business logic.
package store

import (
	"sync"

	"github.com/antigravity-dev/warden/internal/domain"
)

// Store holds the daemon's entire process-local state.
type Store struct {
	mu              sync.RWMutex
	projects        map[string]*domain.Project
	agents          map[string]*domain.Agent
	agentsByProject map[string][]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		projects:        make(map[string]*domain.Project),
		agents:          make(map[string]*domain.Agent),
		agentsByProject: make(map[string][]string),
	}
}

// CreateProject inserts p. Returns false if a project with that name
// already exists.
func (s *Store) CreateProject(p *domain.Project) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.Name]; exists {
		return false
	}
	cp := *p
	s.projects[p.Name] = &cp
	if _, ok := s.agentsByProject[p.Name]; !ok {
		s.agentsByProject[p.Name] = nil
	}
	return true
}

// GetProject returns an immutable snapshot of the named project.
func (s *Store) GetProject(name string) (domain.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[name]
	if !ok {
		return domain.Project{}, false
	}
	return *p, true
}

// UpdateProject replaces the stored project in place. Returns false if it
// doesn't exist.
func (s *Store) UpdateProject(p *domain.Project) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.Name]; !exists {
		return false
	}
	cp := *p
	s.projects[p.Name] = &cp
	return true
}

// DeleteProject removes a project and its agent index. Callers must have
// already deleted the project's agents (invariant enforced by the
// manager, not here).
func (s *Store) DeleteProject(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, name)
	delete(s.agentsByProject, name)
}

// ListProjects returns a snapshot of every project.
func (s *Store) ListProjects() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out
}

// CreateAgent inserts a under its project, keeping agents and
// agentsByProject consistent. Returns false if the agent id is already
// taken within that project.
func (s *Store) CreateAgent(a *domain.Agent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentKey(a.Project, a.ID)
	if _, exists := s.agents[key]; exists {
		return false
	}
	cp := *a
	s.agents[key] = &cp
	s.agentsByProject[a.Project] = append(s.agentsByProject[a.Project], key)
	return true
}

// GetAgent returns an immutable snapshot of an agent by (project, id).
func (s *Store) GetAgent(project, id string) (domain.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentKey(project, id)]
	if !ok {
		return domain.Agent{}, false
	}
	return *a, true
}

// UpdateAgent replaces the stored agent in place. Returns false if it
// doesn't exist.
func (s *Store) UpdateAgent(a *domain.Agent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentKey(a.Project, a.ID)
	if _, exists := s.agents[key]; !exists {
		return false
	}
	cp := *a
	s.agents[key] = &cp
	return true
}

// DeleteAgent removes an agent from both indices. Returns false if it
// wasn't present.
func (s *Store) DeleteAgent(project, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentKey(project, id)
	if _, exists := s.agents[key]; !exists {
		return false
	}
	delete(s.agents, key)
	ids := s.agentsByProject[project]
	for i, k := range ids {
		if k == key {
			s.agentsByProject[project] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true
}

// ListAgentsByProject returns a snapshot of every agent in project.
func (s *Store) ListAgentsByProject(project string) []domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.agentsByProject[project]
	out := make([]domain.Agent, 0, len(keys))
	for _, k := range keys {
		if a, ok := s.agents[k]; ok {
			out = append(out, *a)
		}
	}
	return out
}

// ListAllAgents returns a snapshot of every agent process-wide.
func (s *Store) ListAllAgents() []domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	return out
}

// Snapshot returns coarse counts for the health endpoint and diagnostics.
func (s *Store) Snapshot() (projects int, agents int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects), len(s.agents)
}

func agentKey(project, id string) string {
	return project + "/" + id
}
