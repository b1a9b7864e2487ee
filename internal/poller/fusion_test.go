package poller

import (
	"testing"
	"time"

	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/provider"
)

func TestFuseStatus_PaneDeadWins(t *testing.T) {
	got := fuseStatus(fuseInput{current: domain.StatusProcessing, paneDead: true})
	if got != domain.StatusExited {
		t.Errorf("expected exited, got %s", got)
	}
}

func TestFuseStatus_UIParserOverridesWhenAllowed(t *testing.T) {
	got := fuseStatus(fuseInput{
		current:         domain.StatusIdle,
		uiStatus:        domain.StatusWaitingInput,
		uiParserAllowed: true,
	})
	if got != domain.StatusWaitingInput {
		t.Errorf("expected waiting_input from ui parser, got %s", got)
	}
}

func TestFuseStatus_UIParserStartingIsIgnored(t *testing.T) {
	got := fuseStatus(fuseInput{
		current:         domain.StatusStarting,
		uiStatus:        domain.StatusStarting,
		uiParserAllowed: true,
		diffNonEmpty:    true,
	})
	if got != domain.StatusProcessing {
		t.Errorf("a bare 'starting' ui status should not itself win; expected processing from the diff rule, got %s", got)
	}
}

func TestFuseStatus_UIParserDisallowedFallsThroughToEvents(t *testing.T) {
	got := fuseStatus(fuseInput{
		current:         domain.StatusIdle,
		uiStatus:        domain.StatusWaitingInput,
		uiParserAllowed: false,
		events:          []provider.Event{{Kind: provider.EventErrorKind}},
	})
	if got != domain.StatusError {
		t.Errorf("expected error event to win when ui parser is disallowed, got %s", got)
	}
}

func TestFuseStatus_EventPriorityOrder(t *testing.T) {
	got := fuseStatus(fuseInput{
		events: []provider.Event{
			{Kind: provider.EventCompletion},
			{Kind: provider.EventToolStart},
			{Kind: provider.EventErrorKind},
		},
	})
	if got != domain.StatusError {
		t.Errorf("expected error to take priority over tool_start and completion, got %s", got)
	}
}

func TestFuseStatus_NonEmptyDiffMeansProcessing(t *testing.T) {
	got := fuseStatus(fuseInput{current: domain.StatusIdle, diffNonEmpty: true})
	if got != domain.StatusProcessing {
		t.Errorf("expected processing, got %s", got)
	}
}

func TestFuseStatus_ProcessingGoesIdleAfterThreshold(t *testing.T) {
	got := fuseStatus(fuseInput{
		current:       domain.StatusProcessing,
		paneAlive:     true,
		sinceLastDiff: processingIdleThreshold,
	})
	if got != domain.StatusIdle {
		t.Errorf("expected idle after threshold, got %s", got)
	}

	got = fuseStatus(fuseInput{
		current:       domain.StatusProcessing,
		paneAlive:     true,
		sinceLastDiff: processingIdleThreshold - time.Millisecond,
	})
	if got != domain.StatusProcessing {
		t.Errorf("expected to remain processing before threshold, got %s", got)
	}
}

func TestFuseStatus_StartingGoesIdleWithOutput(t *testing.T) {
	got := fuseStatus(fuseInput{
		current:   domain.StatusStarting,
		paneAlive: true,
		hasOutput: true,
	})
	if got != domain.StatusIdle {
		t.Errorf("expected idle, got %s", got)
	}

	got = fuseStatus(fuseInput{current: domain.StatusStarting, paneAlive: false, hasOutput: true})
	if got != domain.StatusStarting {
		t.Errorf("expected to remain starting when pane isn't alive, got %s", got)
	}
}

func TestFuseStatus_NoneOfTheRulesApplyKeepsCurrent(t *testing.T) {
	got := fuseStatus(fuseInput{current: domain.StatusIdle})
	if got != domain.StatusIdle {
		t.Errorf("expected status to be unchanged, got %s", got)
	}
}

func TestPaneAliveFromCommand(t *testing.T) {
	if paneAliveFromCommand("") {
		t.Error("empty command should not be alive")
	}
	if paneAliveFromCommand("bash") {
		t.Error("a shell command should not count as alive")
	}
	if !paneAliveFromCommand("claude") {
		t.Error("a non-shell command should count as alive")
	}
}
