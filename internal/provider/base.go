package provider

import (
	"regexp"
	"strings"

	"github.com/antigravity-dev/warden/internal/ansi"
	"github.com/antigravity-dev/warden/internal/domain"
)

// shellCommands are pane_current_command values that mean "no agent
// process is running, this is a bare shell".
var shellCommands = map[string]struct{}{
	"bash": {}, "zsh": {}, "sh": {}, "fish": {}, "nu": {}, "dash": {}, "ksh": {},
}

// IsShellCommand reports whether cmd is one of the recognized shell names.
func IsShellCommand(cmd string) bool {
	_, ok := shellCommands[strings.TrimSpace(cmd)]
	return ok
}

// patternSet is the per-provider table of substrings/regexes driving
// status inference and diff classification.
type patternSet struct {
	tag string

	idlePrompt     *regexp.Regexp
	spinnerGlyphs  []string
	permissionText []string
	errorKeywords  []string

	toolStart *regexp.Regexp
	toolEnd   *regexp.Regexp
	question  *regexp.Regexp
	modelFlag string
}

// base is a generic Strategy driven entirely by its patternSet — every
// built-in provider is one of these configured differently, the way the
// teacher drives its tiered dispatch tables off one struct per tag.
type base struct {
	patterns patternSet
}

func (b *base) Name() string { return b.patterns.tag }

func (b *base) BuildCommand(cfg Config) ([]string, error) {
	return buildArgv(cfg, b.patterns.modelFlag)
}

func (b *base) BuildEnv(cfg Config, subscriptionEnv map[string]string) map[string]string {
	return mergeEnv(cfg, subscriptionEnv)
}

func (b *base) FormatInput(message string) string {
	return message + "\n"
}

func (b *base) ExitCommand() string {
	return "/exit"
}

func (b *base) IdlePattern() *regexp.Regexp {
	return b.patterns.idlePrompt
}

// ParseStatus scans the last ~20 lines of ANSI-stripped output, per
// against the provider's pattern table.
func (b *base) ParseStatus(capturedOutput string) domain.AgentStatus {
	lines := lastLines(capturedOutput, 20)
	if len(lines) == 0 {
		return domain.StatusStarting
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]

		if containsAny(line, b.patterns.errorKeywords) {
			return domain.StatusError
		}
		if containsAny(line, b.patterns.permissionText) {
			return domain.StatusWaitingInput
		}
		if b.patterns.question != nil && b.patterns.question.MatchString(line) {
			return domain.StatusWaitingInput
		}
		if isShellPromptLine(line) {
			return domain.StatusExited
		}
		if containsAny(line, b.patterns.spinnerGlyphs) {
			return domain.StatusProcessing
		}
		if b.patterns.idlePrompt != nil && b.patterns.idlePrompt.MatchString(line) {
			return domain.StatusIdle
		}
	}

	return domain.StatusStarting
}

// ParseOutputDiff classifies diff line by line in the fixed check order
// this package classifies: tool-start, tool-end, permission, question,
// completion, error, non-empty text, unknown. Empty and prompt/spinner
// lines are dropped.
func (b *base) ParseOutputDiff(diff string) []Event {
	clean := ansi.Strip(diff)
	lines := strings.Split(clean, "\n")

	var events []Event
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if containsAny(trimmed, b.patterns.spinnerGlyphs) {
			continue
		}
		if b.patterns.idlePrompt != nil && b.patterns.idlePrompt.MatchString(trimmed) {
			continue
		}

		switch {
		case b.patterns.toolStart != nil && b.patterns.toolStart.MatchString(trimmed):
			m := b.patterns.toolStart.FindStringSubmatch(trimmed)
			ev := Event{Kind: EventToolStart, Raw: trimmed}
			if len(m) > 1 {
				ev.Tool = m[1]
			}
			if len(m) > 2 {
				ev.Input = m[2]
			}
			events = append(events, ev)
		case b.patterns.toolEnd != nil && b.patterns.toolEnd.MatchString(trimmed):
			m := b.patterns.toolEnd.FindStringSubmatch(trimmed)
			ev := Event{Kind: EventToolEnd, Raw: trimmed}
			if len(m) > 1 {
				ev.Tool = m[1]
			}
			if len(m) > 2 {
				ev.Output = m[2]
			}
			events = append(events, ev)
		case containsAny(trimmed, b.patterns.permissionText):
			events = append(events, Event{Kind: EventPermissionRequested, Message: trimmed, Raw: trimmed})
		case b.patterns.question != nil && b.patterns.question.MatchString(trimmed):
			events = append(events, Event{Kind: EventQuestionAsked, Question: trimmed, Raw: trimmed})
		case strings.Contains(strings.ToLower(trimmed), "done") && strings.Contains(strings.ToLower(trimmed), "task"):
			events = append(events, Event{Kind: EventCompletion, Message: trimmed, Raw: trimmed})
		case containsAny(trimmed, b.patterns.errorKeywords):
			events = append(events, Event{Kind: EventErrorKind, Message: trimmed, Raw: trimmed})
		case isAlphanumericLine(trimmed):
			events = append(events, Event{Kind: EventText, Text: trimmed, Raw: trimmed})
		default:
			events = append(events, Event{Kind: EventUnknown, Raw: trimmed})
		}
	}
	return events
}
