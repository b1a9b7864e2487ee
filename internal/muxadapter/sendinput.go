package muxadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SendInput delivers text to target via the four-step load-buffer/paste-buffer
// protocol: writing to a temp file and pasting it sidesteps the shell-quoting
// and bracketed-paste quirks that plague naive send-keys for multi-line or
// punctuation-heavy prompts. The temp file is named with a fresh uuid so
// concurrent SendInput calls across agents never collide.
func (a *Adapter) SendInput(ctx context.Context, target, text string) error {
	tmpPath := filepath.Join(os.TempDir(), "warden-input-"+uuid.NewString()+".txt")
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("muxadapter: create temp input file: %w", err)
	}
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("muxadapter: write temp input file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("muxadapter: close temp input file: %w", err)
	}

	if _, err := a.run(ctx, "load-buffer", tmpPath); err != nil {
		return err
	}
	if _, err := a.run(ctx, "paste-buffer", "-t", target, "-d"); err != nil {
		return err
	}

	delay := a.SettleDelay
	if delay <= 0 {
		delay = defaultSettleDelay
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	_, err = a.run(ctx, "send-keys", "-t", target, "Enter")
	return err
}
