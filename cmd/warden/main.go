// Command warden runs the daemon: it supervises AI coding-assistant CLI
// processes inside mux panes, exposing their lifecycle and output over
// an HTTP/SSE API and optional outbound webhooks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/warden/internal/api"
	"github.com/antigravity-dev/warden/internal/bus"
	"github.com/antigravity-dev/warden/internal/config"
	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/flock"
	"github.com/antigravity-dev/warden/internal/manager"
	"github.com/antigravity-dev/warden/internal/muxadapter"
	"github.com/antigravity-dev/warden/internal/poller"
	"github.com/antigravity-dev/warden/internal/provider"
	"github.com/antigravity-dev/warden/internal/store"
	"github.com/antigravity-dev/warden/internal/subscription"
	"github.com/antigravity-dev/warden/internal/webhook"
)

// version is stamped by the release build; left as "dev" otherwise.
var version = "dev"

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "warden.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	once := flag.Bool("once", false, "run a single poll tick then exit")
	printConfig := flag.Bool("print-config", false, "print the resolved, normalized config and exit")
	flag.Parse()

	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warden: failed to load config:", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	if *printConfig {
		fmt.Printf("%+v\n", cfg)
		return
	}

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)
	logger.Info("warden starting", "config", *configPath)

	lockFile, err := flock.Acquire(cfg.General.LockPath)
	if err != nil {
		logger.Error("failed to acquire single-instance lock", "path", cfg.General.LockPath, "error", err)
		os.Exit(1)
	}
	defer flock.Release(lockFile)

	st := store.New()
	eventBus := bus.New(cfg.General.MaxEventHistory)

	muxAdapter := muxadapter.New()
	if !muxAdapter.IsAvailable() {
		logger.Error("mux binary not installed")
		os.Exit(1)
	}
	liveness := muxadapter.NewLivenessProbe(muxAdapter, 5*time.Second)

	providers := provider.NewRegistry()
	subscriptions := subscription.NewRegistry(nil)

	mgr := manager.New(st, eventBus, muxAdapter, providers, subscriptions, cfgMgr, logger.With("component", "manager"))

	resolveCallback := func(project, agentID string) (*domain.Callback, string) {
		a, ok := st.GetAgent(project, agentID)
		if !ok {
			return nil, ""
		}
		p, _ := st.GetProject(project)
		return a.EffectiveCallback(&p), a.Provider
	}
	lastMessage := func(project, agentID string) *string {
		a, ok := st.GetAgent(project, agentID)
		if !ok {
			return nil
		}
		return a.LastTextMessage
	}
	dispatcher := webhook.New(&http.Client{Timeout: cfg.Webhook.Timeout.Duration}, logger.With("component", "webhook"), resolveCallback, lastMessage)
	unsubscribeWebhook := dispatcher.Subscribe(eventBus)
	defer unsubscribeWebhook()

	pollr := poller.New(mgr, st, muxAdapter, providers, cfg.General.PollInterval.Duration, cfg.General.CaptureLines, logger.With("component", "poller"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		logger.Info("running single poll tick (--once mode)")
		pollr.Tick(ctx)
		logger.Info("single tick complete, exiting")
		return
	}

	go liveness.Run(ctx)
	go pollr.Run(ctx)

	apiSrv, err := api.NewServer(cfgMgr, mgr, st, eventBus, muxAdapter, liveness, subscriptions, dispatcher, logger.With("component", "api"))
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	api.Version = version
	defer apiSrv.Close()

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("warden running", "bindAddress", cfg.General.BindAddress, "port", cfg.General.Port, "muxPrefix", cfg.General.MuxPrefix)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			if _, err := cfgMgr.Reload(); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			logger.Info("config reloaded")
		default:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			drainAgents(st, muxAdapter, logger)
			logger.Info("warden stopped", "shutdownDuration", time.Since(shutdownStart).String())
			return
		}
	}
}

// drainAgents flushes and closes every live agent's pipe-log on
// shutdown. The mux panes themselves are left running — only an
// explicit deleteAgent kills a window. The mux session survives a
// daemon restart; only the daemon's in-memory state does not.
func drainAgents(st *store.Store, mux *muxadapter.Adapter, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, a := range st.ListAllAgents() {
		if a.LogPath == "" {
			continue
		}
		if err := mux.StopPipePane(ctx, a.MuxTarget); err != nil {
			logger.Debug("shutdown: stop pipe-pane failed", "agent", a.ID, "error", err)
		}
	}
}
