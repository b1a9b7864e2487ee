// Package provider implements the per-CLI strategy contract: command
// construction, output-driven status inference, and diff classification.
package provider

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/antigravity-dev/warden/internal/ansi"
	"github.com/antigravity-dev/warden/internal/domain"
)

// Config is the per-provider configuration a strategy builds a command from.
type Config struct {
	Command   string
	ExtraArgs []string
	Env       map[string]string
	Model     string
	Enabled   bool
}

// EventKind discriminates a ProviderEvent, the intermediate, per-diff
// classification a strategy produces. ProviderEvents are never persisted;
// the poller lifts them into domain.NormalizedEvent.
type EventKind string

const (
	EventText                 EventKind = "text"
	EventToolStart            EventKind = "tool_start"
	EventToolEnd              EventKind = "tool_end"
	EventErrorKind            EventKind = "error"
	EventCompletion           EventKind = "completion"
	EventPermissionRequested  EventKind = "permission_requested"
	EventQuestionAsked        EventKind = "question_asked"
	EventUnknown              EventKind = "unknown"
)

// Event is a single classified line (or line-group) from a diff.
type Event struct {
	Kind     EventKind
	Text     string
	Tool     string
	Input    string
	Output   string
	Message  string
	Question string
	Options  []string
	Raw      string
}

// Strategy is the per-provider contract each provider implementation satisfies.
type Strategy interface {
	Name() string
	BuildCommand(cfg Config) ([]string, error)
	BuildEnv(cfg Config, subscriptionEnv map[string]string) map[string]string
	ParseStatus(capturedOutput string) domain.AgentStatus
	ParseOutputDiff(diff string) []Event
	FormatInput(message string) string
	ExitCommand() string
	IdlePattern() *regexp.Regexp
}

// Registry looks up a Strategy by provider tag.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns a Registry pre-populated with the four built-in
// provider strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range []Strategy{newClaudeCode(), newCodex(), newPi(), newOpenCode()} {
		r.strategies[s.Name()] = s
	}
	return r
}

// Register adds or overrides a strategy, e.g. for tests.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

var errUnknownProvider = fmt.Errorf("provider unknown")

// ErrUnknownProvider is returned by Get for an unregistered tag.
func ErrUnknownProvider() error { return errUnknownProvider }

// Get resolves a strategy by tag.
func (r *Registry) Get(tag string) (Strategy, error) {
	s, ok := r.strategies[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownProvider, tag)
	}
	return s, nil
}

// InternalsPaths returns the convention-based providerRuntimeDir /
// providerSessionFile hints for the agent creation protocol: claude-code
// writes one JSONL transcript per session under a per-agent path, while
// codex, pi, and opencode each maintain a rolling session directory the
// poller can treat as internals-backed. Unknown tags and an empty
// homeDir both report no internals support.
func InternalsPaths(tag, homeDir, agentID string) (runtimeDir, sessionFile string) {
	if homeDir == "" {
		return "", ""
	}
	switch tag {
	case "claude-code":
		return "", filepath.Join(homeDir, ".claude", "projects", agentID+".jsonl")
	case "codex":
		return filepath.Join(homeDir, ".codex", "sessions"), ""
	case "pi":
		return filepath.Join(homeDir, ".pi", "sessions"), ""
	case "opencode":
		return filepath.Join(homeDir, ".opencode", "sessions"), ""
	default:
		return "", ""
	}
}

// buildArgv shares the argv assembly and NUL-byte validation across every
// built-in strategy: base command, optional --model, then configured
// extra args in order.
func buildArgv(cfg Config, modelFlag string) ([]string, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, fmt.Errorf("provider: command is required")
	}
	if strings.ContainsRune(command, '\x00') {
		return nil, fmt.Errorf("provider: command contains NUL byte")
	}

	argv := []string{command}
	if cfg.Model != "" && modelFlag != "" {
		argv = append(argv, modelFlag, cfg.Model)
	}
	for i, arg := range cfg.ExtraArgs {
		if strings.ContainsRune(arg, '\x00') {
			return nil, fmt.Errorf("provider: extra arg %d contains NUL byte", i)
		}
		argv = append(argv, arg)
	}
	return argv, nil
}

// mergeEnv layers subscription-derived overrides on top of the
// statically configured provider environment.
func mergeEnv(cfg Config, subscriptionEnv map[string]string) map[string]string {
	env := make(map[string]string, len(cfg.Env)+len(subscriptionEnv))
	for k, v := range cfg.Env {
		env[k] = v
	}
	for k, v := range subscriptionEnv {
		env[k] = v
	}
	return env
}

// lastLines returns at most n ANSI-stripped, non-empty trailing lines of
// captured output, the window parseStatus scans.
func lastLines(capturedOutput string, n int) []string {
	clean := ansi.Strip(capturedOutput)
	all := strings.Split(clean, "\n")
	var nonEmpty []string
	for _, l := range all {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) > n {
		nonEmpty = nonEmpty[len(nonEmpty)-n:]
	}
	return nonEmpty
}

// isShellPromptLine heuristically recognizes a returned shell prompt,
// the UI-parser's signal that the agent process has exited.
func isShellPromptLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return strings.HasSuffix(trimmed, "$") || strings.HasSuffix(trimmed, "#") || strings.HasSuffix(trimmed, "%")
}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func isAlphanumericLine(line string) bool {
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}
