package manager

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/antigravity-dev/warden/internal/config"
	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/provider"
)

// AgentSpec is the caller-supplied intent for a new agent.
type AgentSpec struct {
	ID             string
	Provider       string
	Task           string
	Model          string
	SubscriptionID string
	Callback       *domain.Callback
}

// CreateAgent implements the agent creation protocol:
// resolve strategy, ensure the session, allocate an id, build argv/env,
// create the window, register in the store, start the pipe-log, and
// schedule the initial task injection.
func (m *Manager) CreateAgent(ctx context.Context, project string, spec AgentSpec) (domain.Agent, error) {
	strategy, err := m.providers.Get(spec.Provider)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("%w: %q", ErrProviderUnknown, spec.Provider)
	}

	p, ok := m.store.GetProject(project)
	if !ok {
		return domain.Agent{}, ErrProjectNotFound
	}

	if spec.ID != "" && !ValidAgentID(spec.ID) {
		return domain.Agent{}, fmt.Errorf("%w: agent id %q", ErrInvalidName, spec.ID)
	}

	if !m.mux.HasSession(ctx, p.MuxSession) {
		if err := m.mux.CreateSession(ctx, p.MuxSession, p.Cwd); err != nil {
			return domain.Agent{}, fmt.Errorf("%w: %v", ErrMuxUnavailable, err)
		}
	}

	id := spec.ID
	if id == "" {
		id = generateID(spec.Provider, func(candidate string) bool {
			_, exists := m.store.GetAgent(project, candidate)
			return exists
		})
	}

	cfg := m.providerConfig(spec.Provider)
	var subEnv map[string]string
	if spec.SubscriptionID != "" {
		if sub, ok := m.subscriptions.Get(spec.SubscriptionID); ok {
			subEnv = sub.EnvOverrides()
		}
	}

	argv, err := strategy.BuildCommand(cfg)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("provider build command: %w", err)
	}
	env := strategy.BuildEnv(cfg, subEnv)

	windowName := id
	paneID, err := m.mux.CreateWindow(ctx, p.MuxSession, windowName, p.Cwd, argv, env, nil)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("%w: %v", ErrMuxUnavailable, err)
	}
	_ = paneID

	muxTarget := p.MuxSession + ":" + windowName + ".0"

	homeDir, err := os.UserHomeDir()
	if err != nil {
		m.logger.Debug("create agent: resolve home dir failed", "agent", id, "error", err)
	}
	runtimeDir, sessionFile := provider.InternalsPaths(spec.Provider, homeDir, id)

	a := &domain.Agent{
		ID:                  id,
		Project:             project,
		Provider:            spec.Provider,
		Task:                spec.Task,
		Model:               spec.Model,
		SubscriptionID:      spec.SubscriptionID,
		Status:              domain.StatusStarting,
		CreatedAt:           time.Now(),
		LastActivity:        time.Now(),
		WindowName:          windowName,
		MuxTarget:           muxTarget,
		AttachCommand:       "tmux attach -t " + p.MuxSession,
		Callback:            spec.Callback,
		ProviderRuntimeDir:  runtimeDir,
		ProviderSessionFile: sessionFile,
	}

	if !m.store.CreateAgent(a) {
		// Roll back the window we just created so we never leak mux state.
		m.mux.KillWindow(ctx, muxTarget)
		return domain.Agent{}, ErrAgentIDTaken
	}

	if dir := m.cfg.Get().General.LogDir; dir != "" {
		logPath := config.ExpandHome(dir) + "/" + project + "/" + id + ".log"
		if err := m.mux.StartPipePane(ctx, muxTarget, logPath); err != nil {
			m.logger.Warn("create agent: pipe-pane failed", "agent", id, "error", err)
		} else {
			a.LogPath = logPath
			m.store.UpdateAgent(a)
		}
	}

	m.emit(project, id, domain.EventAgentStarted, nil)
	m.emit(project, id, domain.EventStatusChanged, domain.StatusChangedData(domain.StatusStarting, domain.StatusStarting, domain.SourceCreate))

	go m.scheduleInitialInput(project, id, muxTarget, strategy.FormatInput(spec.Task))

	return *a, nil
}

// readinessTimeout bounds how long CreateAgent waits for the pane's
// current command to be a non-shell process before injecting the task
// prompt anyway.
const readinessTimeout = 10 * time.Second
const readinessPoll = 250 * time.Millisecond

func (m *Manager) scheduleInitialInput(project, id, muxTarget, formattedInput string) {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()

	ticker := time.NewTicker(readinessPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.sendRawInput(project, id, muxTarget, formattedInput)
			return
		case <-ticker.C:
			cmd, err := m.mux.GetPaneVar(ctx, muxTarget, "pane_current_command")
			if err == nil && cmd != "" && !isShellCommandName(cmd) {
				m.sendRawInput(project, id, muxTarget, formattedInput)
				return
			}
		}
	}
}

func (m *Manager) sendRawInput(project, id, muxTarget, formattedInput string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.mux.SendInput(ctx, muxTarget, formattedInput); err != nil {
		m.logger.Warn("create agent: initial input failed", "agent", id, "error", err)
		return
	}
	m.emit(project, id, domain.EventInputSent, map[string]any{"text": formattedInput})
}

func isShellCommandName(cmd string) bool {
	switch cmd {
	case "bash", "zsh", "sh", "fish", "nu", "dash", "ksh":
		return true
	default:
		return false
	}
}

func (m *Manager) providerConfig(tag string) (cfg providerConfig) {
	p, ok := m.cfg.Get().Providers[tag]
	if !ok {
		return providerConfig{}
	}
	return providerConfig{Command: p.Command, ExtraArgs: p.ExtraArgs, Env: p.Env, Model: p.Model, Enabled: p.Enabled}
}

// DeleteAgent performs the best-effort ordered cleanup:
// stop the pipe-log, send the provider exit command, grace period, kill
// the window, remove from the store, emit terminal events. Each step is
// independent — a failure logs and the cleanup proceeds.
func (m *Manager) DeleteAgent(ctx context.Context, project, id string) error {
	lock := m.agentLock(project, id)
	lock.Lock()
	defer lock.Unlock()

	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return ErrAgentNotFound
	}

	if err := m.mux.StopPipePane(ctx, a.MuxTarget); err != nil {
		m.logger.Debug("delete agent: stop pipe-pane failed", "agent", id, "error", err)
	}

	if strategy, err := m.providers.Get(a.Provider); err == nil {
		if err := m.mux.SendInput(ctx, a.MuxTarget, strategy.ExitCommand()+"\n"); err != nil {
			m.logger.Debug("delete agent: exit command failed", "agent", id, "error", err)
		}
	}

	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
	}

	if err := m.mux.KillWindow(ctx, a.MuxTarget); err != nil {
		m.logger.Debug("delete agent: kill window failed", "agent", id, "error", err)
	}

	m.store.DeleteAgent(project, id)
	m.dropAgentLock(project, id)

	m.emit(project, id, domain.EventStatusChanged, domain.StatusChangedData(a.Status, domain.StatusExited, domain.SourceDelete))
	m.emit(project, id, domain.EventAgentExited, map[string]any{"exitCode": nil})
	return nil
}

// SendInput injects text into the agent's pane and emits input_sent.
func (m *Manager) SendInput(ctx context.Context, project, id, text string) error {
	lock := m.agentLock(project, id)
	lock.Lock()
	defer lock.Unlock()

	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return ErrAgentNotFound
	}

	strategy, err := m.providers.Get(a.Provider)
	formatted := text + "\n"
	if err == nil {
		formatted = strategy.FormatInput(text)
	}

	if err := m.mux.SendInput(ctx, a.MuxTarget, formatted); err != nil {
		return fmt.Errorf("%w: %v", ErrMuxUnavailable, err)
	}

	a.LastActivity = time.Now()
	m.store.UpdateAgent(&a)
	m.emit(project, id, domain.EventInputSent, map[string]any{"text": text})
	return nil
}

// AbortAgent sends an interrupt (Ctrl-C) to the agent's pane.
func (m *Manager) AbortAgent(ctx context.Context, project, id string) error {
	a, ok := m.store.GetAgent(project, id)
	if !ok {
		return ErrAgentNotFound
	}
	if err := m.mux.SendKeys(ctx, a.MuxTarget, "C-c"); err != nil {
		return fmt.Errorf("%w: %v", ErrMuxUnavailable, err)
	}
	return nil
}

// providerConfig adapts config.Provider to provider.Config without the
// manager package depending on the config package's TOML tags directly
// in the provider package.
type providerConfig = struct {
	Command   string
	ExtraArgs []string
	Env       map[string]string
	Model     string
	Enabled   bool
}
