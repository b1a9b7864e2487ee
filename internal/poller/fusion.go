package poller

import (
	"strings"
	"time"

	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/provider"
)

// processingIdleThreshold is the "no diff for >= 3000ms" threshold of
// status-fusion rule 5.
const processingIdleThreshold = 3000 * time.Millisecond

// eventPriority is rule 3's direct provider-event -> status mapping,
// consulted in this priority order (error first, completion last).
var eventPriority = []struct {
	kind   provider.EventKind
	status domain.AgentStatus
}{
	{provider.EventErrorKind, domain.StatusError},
	{provider.EventPermissionRequested, domain.StatusWaitingInput},
	{provider.EventQuestionAsked, domain.StatusWaitingInput},
	{provider.EventToolStart, domain.StatusProcessing},
	{provider.EventCompletion, domain.StatusIdle},
}

// fuseInput bundles everything fuseStatus needs to apply the seven
// ordered status-fusion rules.
type fuseInput struct {
	current        domain.AgentStatus
	paneDead       bool
	uiStatus       domain.AgentStatus
	uiParserAllowed bool
	events         []provider.Event
	diffNonEmpty   bool
	paneAlive      bool
	sinceLastDiff  time.Duration
	hasOutput      bool
}

// fuseStatus applies the status-fusion rules in order and returns the
// winning status.
func fuseStatus(in fuseInput) domain.AgentStatus {
	if in.paneDead {
		return domain.StatusExited
	}

	if in.uiParserAllowed && in.uiStatus != domain.StatusStarting && in.uiStatus != "" {
		return in.uiStatus
	}

	for _, rule := range eventPriority {
		if hasEventKind(in.events, rule.kind) {
			return rule.status
		}
	}

	if in.diffNonEmpty {
		return domain.StatusProcessing
	}

	if in.current == domain.StatusProcessing && in.paneAlive && in.sinceLastDiff >= processingIdleThreshold {
		return domain.StatusIdle
	}

	if in.current == domain.StatusStarting && in.paneAlive && in.hasOutput {
		return domain.StatusIdle
	}

	return in.current
}

func hasEventKind(events []provider.Event, kind provider.EventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// paneAliveFromCommand reports whether pane_current_command names an agent process
// rather than a bare shell.
func paneAliveFromCommand(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	return cmd != "" && !provider.IsShellCommand(cmd)
}
