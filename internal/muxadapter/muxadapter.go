// Package muxadapter is a typed wrapper around the mux (tmux) subprocess.
// Every exported method shells out once and classifies failure through
// muxerr so callers never grep stderr themselves.
package muxadapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/warden/internal/muxerr"
	"github.com/antigravity-dev/warden/internal/shellquote"
)

// Geometry is the fixed virtual pane size new sessions are created with.
const (
	geometryWidth  = "220"
	geometryHeight = "50"

	// defaultSettleDelay is how long SendInput waits between pasting the
	// buffer and pressing Enter, to defeat terminal-UI debounce logic.
	defaultSettleDelay = 120 * time.Millisecond
)

// Adapter wraps the mux binary. It holds no session state of its own —
// every call spawns a fresh subprocess, so an Adapter is safe to share
// across goroutines.
type Adapter struct {
	Binary       string // defaults to "tmux"
	SettleDelay  time.Duration
	HistoryLimit int
}

// New returns an Adapter using the real tmux binary with default geometry
// and timing.
func New() *Adapter {
	return &Adapter{
		Binary:       "tmux",
		SettleDelay:  defaultSettleDelay,
		HistoryLimit: 50000,
	}
}

func (a *Adapter) bin() string {
	if a.Binary == "" {
		return "tmux"
	}
	return a.Binary
}

// run executes the mux binary with args and classifies any failure.
func (a *Adapter) run(ctx context.Context, args ...string) (stdout string, err error) {
	cmd := exec.CommandContext(ctx, a.bin(), args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if runErr == nil {
		return outBuf.String(), nil
	}

	exitCode := -1
	if ee, ok := runErr.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	command := a.bin() + " " + strings.Join(args, " ")
	return outBuf.String(), muxerr.Classify(command, errBuf.String(), exitCode, runErr)
}

// IsAvailable reports whether the mux binary can be found on PATH.
func (a *Adapter) IsAvailable() bool {
	_, err := exec.LookPath(a.bin())
	return err == nil
}

// CreateSession creates a detached session at the fixed geometry and pins
// remain-on-exit/allow-rename/automatic-rename so session:window targets
// stay stable for the daemon's lifetime.
func (a *Adapter) CreateSession(ctx context.Context, name, cwd string) error {
	if a.HasSession(ctx, name) {
		return nil
	}
	_, err := a.run(ctx, "new-session", "-d", "-s", name, "-c", cwd, "-x", geometryWidth, "-y", geometryHeight)
	if err != nil {
		return err
	}
	a.run(ctx, "set-option", "-t", name, "remain-on-exit", "on")
	a.run(ctx, "set-option", "-t", name, "allow-rename", "off")
	a.run(ctx, "set-option", "-t", name, "automatic-rename", "off")
	if a.HistoryLimit > 0 {
		a.run(ctx, "set-option", "-t", name, "history-limit", strconv.Itoa(a.HistoryLimit))
	}
	return nil
}

// CreateWindow creates a new window in session and returns its pane id.
// The window runs argv as a shell string; when env or unsetEnv is
// non-empty the invocation is wrapped as `env [-u K] K=V... argv...`.
func (a *Adapter) CreateWindow(ctx context.Context, session, windowName, cwd string, argv []string, env map[string]string, unsetEnv []string) (paneID string, err error) {
	shellCmd := shellquote.BuildInvocation(argv, env, unsetEnv)
	out, err := a.run(ctx, "new-window", "-t", session, "-n", windowName, "-c", cwd, "-P", "-F", "#{pane_id}", shellCmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SendKeys sends a literal key sequence (e.g. "C-c") to target without
// appending Enter.
func (a *Adapter) SendKeys(ctx context.Context, target, keys string) error {
	_, err := a.run(ctx, "send-keys", "-t", target, keys)
	return err
}

// CapturePane returns the last `lines` lines of scrollback plus the
// visible pane.
func (a *Adapter) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	spec := "-" + strconv.Itoa(lines)
	out, err := a.run(ctx, "capture-pane", "-t", target, "-p", "-S", spec)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// StartPipePane tees the pane's output into logPath via tmux pipe-pane.
func (a *Adapter) StartPipePane(ctx context.Context, target, logPath string) error {
	shellCmd := fmt.Sprintf("cat >> %s", shellquote.Escape(logPath))
	_, err := a.run(ctx, "pipe-pane", "-t", target, shellCmd)
	return err
}

// StopPipePane disables a previously started pipe-pane.
func (a *Adapter) StopPipePane(ctx context.Context, target string) error {
	_, err := a.run(ctx, "pipe-pane", "-t", target)
	return err
}

// KillWindow destroys the window hosting target.
func (a *Adapter) KillWindow(ctx context.Context, target string) error {
	_, err := a.run(ctx, "kill-window", "-t", target)
	if muxerr.IsSessionNotFound(err) {
		return nil
	}
	return err
}

// KillSession destroys the named session.
func (a *Adapter) KillSession(ctx context.Context, name string) error {
	if !a.HasSession(ctx, name) {
		return nil
	}
	_, err := a.run(ctx, "kill-session", "-t", name)
	return err
}

// HasSession reports whether a session with the given name exists.
func (a *Adapter) HasSession(ctx context.Context, name string) bool {
	_, err := a.run(ctx, "has-session", "-t", name)
	return err == nil
}

// GetPaneVar reads a single format variable from the target pane.
func (a *Adapter) GetPaneVar(ctx context.Context, target, varName string) (string, error) {
	out, err := a.run(ctx, "display-message", "-t", target, "-p", "#{"+varName+"}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SetEnv sets a session-scoped environment variable visible to windows
// created afterward.
func (a *Adapter) SetEnv(ctx context.Context, session, name, value string) error {
	_, err := a.run(ctx, "set-environment", "-t", session, name, value)
	return err
}
