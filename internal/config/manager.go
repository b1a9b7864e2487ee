package config

import (
	"fmt"
	"sync"
)

// Manager holds the current config snapshot behind a mutex and supports
// SIGHUP-driven hot reload of non-structural fields. Fields that change
// the listen address require a process restart rather than a hot swap.
type Manager struct {
	mu   sync.RWMutex
	path string
	cur  *Config
}

// NewManager loads path and wraps the result in a Manager.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cur: cfg}, nil
}

// Get returns the current config snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Reload re-reads the config file and swaps in the new snapshot after
// validating that no restart-only field changed.
func (m *Manager) Reload() (*Config, error) {
	next, err := Load(m.path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateReload(m.cur, next); err != nil {
		return nil, err
	}
	m.cur = next
	return next, nil
}

// validateReload refuses to hot-swap fields that require restarting the
// listener.
func validateReload(old, next *Config) error {
	if old.General.BindAddress != next.General.BindAddress || old.General.Port != next.General.Port {
		return fmt.Errorf("config: bindAddress/port changed — restart required to apply")
	}
	return nil
}
