// Package muxerr classifies failures from the mux subprocess into a small
// tagged sum type so callers can branch on Kind instead of grepping stderr
// themselves.
package muxerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the class of mux failure.
type Kind string

const (
	KindSessionNotFound Kind = "SESSION_NOT_FOUND"
	KindWindowNotFound  Kind = "WINDOW_NOT_FOUND"
	KindNotInstalled    Kind = "MUX_NOT_INSTALLED"
	KindCommandFailed   Kind = "COMMAND_FAILED"
)

// Error is the tagged error type every muxadapter call returns on failure.
type Error struct {
	Kind     Kind
	Command  string
	Stderr   string
	ExitCode int
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("mux: %s: %s (exit %d): %s", e.Kind, e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("mux: %s: %s (exit %d)", e.Kind, e.Command, e.ExitCode)
}

// Is lets errors.Is(err, muxerr.NotFound) match an *Error of the same Kind;
// a target *Error with an empty Kind matches any *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return true
	}
	return e.Kind == t.Kind
}

// Sentinel placeholders usable with errors.Is to test kind only.
var (
	NotFound     = &Error{Kind: KindSessionNotFound}
	NotInstalled = &Error{Kind: KindNotInstalled}
)

// Classify inspects exec output to build a tagged Error. It is the single
// point where stderr substring matching happens; every muxadapter call
// funnels its failure through this.
func Classify(command string, stderr string, exitCode int, execErr error) *Error {
	lower := strings.ToLower(stderr)

	if execErr != nil && isNotInstalled(execErr) {
		return &Error{Kind: KindNotInstalled, Command: command, Stderr: stderr, ExitCode: exitCode}
	}

	switch {
	case strings.Contains(lower, "no server running"):
		return &Error{Kind: KindSessionNotFound, Command: command, Stderr: stderr, ExitCode: exitCode}
	case strings.Contains(lower, "session not found"), strings.Contains(lower, "can't find session"):
		return &Error{Kind: KindSessionNotFound, Command: command, Stderr: stderr, ExitCode: exitCode}
	case strings.Contains(lower, "window not found"), strings.Contains(lower, "can't find window"):
		return &Error{Kind: KindWindowNotFound, Command: command, Stderr: stderr, ExitCode: exitCode}
	default:
		return &Error{Kind: KindCommandFailed, Command: command, Stderr: stderr, ExitCode: exitCode}
	}
}

func isNotInstalled(err error) bool {
	var execErr interface{ Error() string }
	if errors.As(err, &execErr) {
		return strings.Contains(strings.ToLower(execErr.Error()), "executable file not found")
	}
	return false
}

// IsSessionNotFound reports whether err is a session-not-found mux error.
func IsSessionNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindSessionNotFound
}

// IsNotInstalled reports whether err indicates the mux binary is missing.
func IsNotInstalled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotInstalled
}
