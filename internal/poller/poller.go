// Package poller runs the periodic tick loop that captures each live
// agent's pane, diffs it against the last capture, derives a fused
// status, and publishes the resulting events through the manager.
package poller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/manager"
	"github.com/antigravity-dev/warden/internal/muxadapter"
	"github.com/antigravity-dev/warden/internal/provider"
	"github.com/antigravity-dev/warden/internal/store"
)

// Poller owns the tick loop. A previous cycle still running means the
// next tick is skipped outright (single-flight).
type Poller struct {
	mgr          *manager.Manager
	store        *store.Store
	mux          *muxadapter.Adapter
	providers    *provider.Registry
	interval     time.Duration
	captureLines int
	logger       *slog.Logger

	ticking atomic.Bool
}

// New returns a Poller configured with the given interval and capture
// window, both already clamped by config.Load.
func New(mgr *manager.Manager, s *store.Store, mux *muxadapter.Adapter, providers *provider.Registry, interval time.Duration, captureLines int, logger *slog.Logger) *Poller {
	return &Poller{
		mgr:          mgr,
		store:        s,
		mux:          mux,
		providers:    providers,
		interval:     interval,
		captureLines: captureLines,
		logger:       logger,
	}
}

// Run blocks, ticking at the configured interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Tick runs a single poll cycle synchronously, for -once invocations and
// tests. It honors the same single-flight guard as the ticker loop.
func (p *Poller) Tick(ctx context.Context) {
	p.tick(ctx)
}

func (p *Poller) tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		return
	}
	defer p.ticking.Store(false)

	agents := p.store.ListAllAgents()
	var wg sync.WaitGroup
	for _, a := range agents {
		if a.Status == domain.StatusExited {
			continue
		}
		wg.Add(1)
		go func(a domain.Agent) {
			defer wg.Done()
			p.pollAgent(ctx, a)
		}(a)
	}
	wg.Wait()
}

func (p *Poller) pollAgent(ctx context.Context, a domain.Agent) {
	paneDead, err := p.mux.GetPaneVar(ctx, a.MuxTarget, "pane_dead")
	if err != nil {
		p.logger.Debug("poller: pane_dead query failed", "agent", a.ID, "error", err)
		return
	}
	if paneDead == "1" {
		if err := p.mgr.UpdateAgentStatus(ctx, a.Project, a.ID, domain.StatusExited, domain.SourcePaneDead); err != nil {
			p.logger.Debug("poller: transition to exited failed", "agent", a.ID, "error", err)
		}
		return
	}

	captured, err := p.mux.CapturePane(ctx, a.MuxTarget, p.captureLines)
	if err != nil {
		p.logger.Debug("poller: capture failed", "agent", a.ID, "error", err)
		return
	}

	diff := computeDiff(a.LastCapturedOutput, captured)
	diffNonEmpty := strings.TrimSpace(diff) != ""

	if err := p.mgr.UpdateAgentOutput(a.Project, a.ID, captured, diffNonEmpty); err != nil {
		p.logger.Debug("poller: update output failed", "agent", a.ID, "error", err)
		return
	}

	strategy, err := p.providers.Get(a.Provider)
	if err != nil {
		p.logger.Debug("poller: unknown provider", "agent", a.ID, "provider", a.Provider)
		return
	}

	uiStatus := strategy.ParseStatus(captured)
	events := strategy.ParseOutputDiff(diff)

	paneCmd, _ := p.mux.GetPaneVar(ctx, a.MuxTarget, "pane_current_command")

	var sinceLastDiff time.Duration
	if !a.LastDiffAt.IsZero() {
		sinceLastDiff = time.Since(a.LastDiffAt)
	} else {
		sinceLastDiff = time.Since(a.CreatedAt)
	}

	fused := fuseStatus(fuseInput{
		current:         a.Status,
		paneDead:        false,
		uiStatus:        uiStatus,
		uiParserAllowed: !internalsBacked(a),
		events:          events,
		diffNonEmpty:    diffNonEmpty,
		paneAlive:       paneAliveFromCommand(paneCmd),
		sinceLastDiff:   sinceLastDiff,
		hasOutput:       strings.TrimSpace(captured) != "",
	})

	if fused != a.Status {
		source := domain.SourceUIParser
		if internalsBacked(a) {
			source = domain.SourceInternals
		}
		if err := p.mgr.UpdateAgentStatus(ctx, a.Project, a.ID, fused, source); err != nil {
			p.logger.Debug("poller: status transition rejected", "agent", a.ID, "from", a.Status, "to", fused, "error", err)
		}
	}

	for _, ev := range events {
		p.emitNormalized(a, ev)
	}
}

// internalsBacked reports whether the agent has provider-written files
// to derive status from rather than the terminal-output parser.
// CreateAgent populates ProviderRuntimeDir/ProviderSessionFile by
// convention per provider tag (see provider.InternalsPaths); when
// either is set, uiParserAllowed drops out of fuseStatus in favor of
// the event/diff-derived rules.
func internalsBacked(a domain.Agent) bool {
	return a.ProviderSessionFile != "" || a.ProviderRuntimeDir != ""
}

func (p *Poller) emitNormalized(a domain.Agent, ev provider.Event) {
	switch ev.Kind {
	case provider.EventText:
		p.mgr.EmitEvent(a.Project, a.ID, domain.EventOutput, map[string]any{"text": ev.Text})
		if err := p.mgr.UpdateAgentLastMessage(a.Project, a.ID, ev.Text); err != nil {
			p.logger.Debug("poller: update last message failed", "agent", a.ID, "error", err)
		}
	case provider.EventToolStart:
		p.mgr.EmitEvent(a.Project, a.ID, domain.EventToolUse, map[string]any{"tool": ev.Tool, "input": ev.Input})
	case provider.EventToolEnd:
		p.mgr.EmitEvent(a.Project, a.ID, domain.EventToolResult, map[string]any{"tool": ev.Tool, "output": ev.Output})
	case provider.EventErrorKind:
		p.mgr.EmitEvent(a.Project, a.ID, domain.EventError, map[string]any{"message": ev.Message})
	case provider.EventPermissionRequested:
		p.mgr.EmitEvent(a.Project, a.ID, domain.EventPermissionRequested, map[string]any{"description": ev.Message})
	case provider.EventQuestionAsked:
		p.mgr.EmitEvent(a.Project, a.ID, domain.EventQuestionAsked, map[string]any{"question": ev.Question, "options": ev.Options})
	case provider.EventCompletion:
		// Completion itself isn't a distinct NormalizedEvent type; it
		// drives the idle status transition above (see fuseStatus).
	case provider.EventUnknown:
		p.mgr.EmitEvent(a.Project, a.ID, domain.EventUnknown, map[string]any{"raw": ev.Raw})
	}
}
