package provider

import "regexp"

// newClaudeCode configures the base Strategy for anthropic's claude-code CLI.
func newClaudeCode() Strategy {
	return &base{patterns: patternSet{
		tag:            "claude-code",
		idlePrompt:     regexp.MustCompile(`(?i)^\s*>\s*$|human:\s*$`),
		spinnerGlyphs:  []string{"✢", "✳", "·", "esc to interrupt"},
		permissionText: []string{"do you want to proceed", "allow this action", "permission"},
		errorKeywords:  []string{"error:", "exception", "traceback", "fatal"},
		toolStart:      regexp.MustCompile(`(?i)^(?:⏺|Running)\s+([A-Za-z0-9_]+)\((.*)\)`),
		toolEnd:        regexp.MustCompile(`(?i)^\s*⎿\s+([A-Za-z0-9_]+)?:?\s*(.*)`),
		question:       regexp.MustCompile(`(?i)\?\s*$`),
		modelFlag:      "--model",
	}}
}

// newCodex configures the base Strategy for openai's codex CLI.
func newCodex() Strategy {
	return &base{patterns: patternSet{
		tag:            "codex",
		idlePrompt:     regexp.MustCompile(`(?i)^\s*›\s*$`),
		spinnerGlyphs:  []string{"⠋", "⠙", "⠹", "working"},
		permissionText: []string{"approve this command", "allow codex to"},
		errorKeywords:  []string{"error:", "exception", "traceback"},
		toolStart:      regexp.MustCompile(`(?i)^\$\s+([A-Za-z0-9_./-]+)\s*(.*)`),
		toolEnd:        regexp.MustCompile(`(?i)^exit code:?\s*(\d+)?\s*(.*)`),
		question:       regexp.MustCompile(`(?i)\?\s*$`),
		modelFlag:      "--model",
	}}
}

// newPi configures the base Strategy for the pi CLI.
func newPi() Strategy {
	return &base{patterns: patternSet{
		tag:            "pi",
		idlePrompt:     regexp.MustCompile(`(?i)^\s*pi>\s*$`),
		spinnerGlyphs:  []string{"...", "thinking"},
		permissionText: []string{"confirm", "proceed? (y/n)"},
		errorKeywords:  []string{"error:", "failed:"},
		toolStart:      regexp.MustCompile(`(?i)^\[tool]\s+([A-Za-z0-9_]+)\s*(.*)`),
		toolEnd:        regexp.MustCompile(`(?i)^\[result]\s+([A-Za-z0-9_]+)?\s*(.*)`),
		question:       regexp.MustCompile(`(?i)\?\s*$`),
		modelFlag:      "--model",
	}}
}

// newOpenCode configures the base Strategy for the opencode CLI.
func newOpenCode() Strategy {
	return &base{patterns: patternSet{
		tag:            "opencode",
		idlePrompt:     regexp.MustCompile(`(?i)^\s*opencode›\s*$`),
		spinnerGlyphs:  []string{"⣾", "⣽", "generating"},
		permissionText: []string{"grant permission", "allow this tool call"},
		errorKeywords:  []string{"error:", "panic:"},
		toolStart:      regexp.MustCompile(`(?i)^›\s+([A-Za-z0-9_]+)\((.*)\)`),
		toolEnd:        regexp.MustCompile(`(?i)^‹\s+([A-Za-z0-9_]+)?:?\s*(.*)`),
		question:       regexp.MustCompile(`(?i)\?\s*$`),
		modelFlag:      "--model",
	}}
}
