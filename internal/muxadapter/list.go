package muxadapter

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Session summarizes a single mux session for listSessions.
type Session struct {
	Name        string
	WindowCount int
	CreatedAt   time.Time
	Attached    bool
}

// Window summarizes a single mux window for listWindows.
type Window struct {
	Index  int
	Name   string
	Active bool
	PaneID string
}

// ListSessions returns every session whose name starts with prefix.
// "no server running" is treated as zero sessions, not an error.
func (a *Adapter) ListSessions(ctx context.Context, prefix string) ([]Session, error) {
	out, err := a.run(ctx, "list-sessions", "-F", "#{session_name}\t#{session_windows}\t#{session_created}\t#{session_attached}")
	if err != nil {
		if isNoServerRunning(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		if prefix != "" && !strings.HasPrefix(fields[0], prefix) {
			continue
		}
		windowCount, _ := strconv.Atoi(fields[1])
		createdUnix, _ := strconv.ParseInt(fields[2], 10, 64)
		sessions = append(sessions, Session{
			Name:        fields[0],
			WindowCount: windowCount,
			CreatedAt:   time.Unix(createdUnix, 0),
			Attached:    fields[3] == "1",
		})
	}
	return sessions, nil
}

// ListWindows returns every window in session.
func (a *Adapter) ListWindows(ctx context.Context, session string) ([]Window, error) {
	out, err := a.run(ctx, "list-windows", "-t", session, "-F", "#{window_index}\t#{window_name}\t#{window_active}\t#{pane_id}")
	if err != nil {
		if isNoServerRunning(err) {
			return nil, nil
		}
		return nil, err
	}

	var windows []Window
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		idx, _ := strconv.Atoi(fields[0])
		windows = append(windows, Window{
			Index:  idx,
			Name:   fields[1],
			Active: fields[2] == "1",
			PaneID: fields[3],
		})
	}
	return windows, nil
}

func isNoServerRunning(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no server running")
}
