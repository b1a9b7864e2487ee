// Package api exposes warden's HTTP surface: project and agent CRUD,
// input/abort/output/messages/debug operations, SSE event streams, and
// dispatcher diagnostics, all under /api/v1.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/warden/internal/bus"
	"github.com/antigravity-dev/warden/internal/config"
	"github.com/antigravity-dev/warden/internal/domain"
	"github.com/antigravity-dev/warden/internal/manager"
	"github.com/antigravity-dev/warden/internal/muxadapter"
	"github.com/antigravity-dev/warden/internal/store"
	"github.com/antigravity-dev/warden/internal/subscription"
	"github.com/antigravity-dev/warden/internal/webhook"
)

// sseQueueDepth is the per-connection bounded event queue; a subscriber
// that falls this far behind is disconnected rather than stalled.
const sseQueueDepth = 1024

// Version is stamped at build time by cmd/warden; left as a plain var so
// main can override it without an init-time import cycle.
var Version = "dev"

// Server is warden's HTTP API server.
type Server struct {
	cfgMgr        *config.Manager
	mgr           *manager.Manager
	store         *store.Store
	bus           *bus.Bus
	mux           *muxadapter.Adapter
	liveness      *muxadapter.LivenessProbe
	subscriptions *subscription.Registry
	dispatcher    *webhook.Dispatcher
	logger        *slog.Logger

	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
}

// NewServer wires a Server over every subsystem it reports on or mutates.
func NewServer(cfgMgr *config.Manager, mgr *manager.Manager, st *store.Store, b *bus.Bus, mux *muxadapter.Adapter, liveness *muxadapter.LivenessProbe, subs *subscription.Registry, dispatcher *webhook.Dispatcher, logger *slog.Logger) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(cfgMgr.Get().API, logger)
	if err != nil {
		return nil, fmt.Errorf("api: init auth middleware: %w", err)
	}
	return &Server{
		cfgMgr:         cfgMgr,
		mgr:            mgr,
		store:          st,
		bus:            b,
		mux:            mux,
		liveness:       liveness,
		subscriptions:  subs,
		dispatcher:     dispatcher,
		logger:         logger,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
	}, nil
}

// Close releases server resources (the audit log file).
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Start registers every route and blocks serving until ctx is cancelled.
// Every route — GET included — runs behind the auth middleware so a
// configured token is required on the whole surface, not just the
// mutating ones.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/api/v1/webhook/", s.routeWebhook)
	mux.HandleFunc("/api/v1/projects", s.routeProjectsCollection)
	mux.HandleFunc("/api/v1/projects/", s.routeProjects)

	cfg := s.cfgMgr.Get()
	addr := net.JoinHostPort(cfg.General.BindAddress, strconv.Itoa(cfg.General.Port))
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.authMiddleware.RequireAuth(mux.ServeHTTP),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, map[string]string{"error": errCode, "message": message})
}

// mapManagerErr translates a manager sentinel error into the HTTP status
// taxonomy: not-found, conflict, validation, transport, and a catch-all
// internal error.
func mapManagerErr(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case isErr(err, manager.ErrProjectNotFound), isErr(err, manager.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case isErr(err, manager.ErrProjectExists), isErr(err, manager.ErrAgentIDTaken):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case isErr(err, manager.ErrInvalidName), isErr(err, manager.ErrProviderUnknown):
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
	case isErr(err, manager.ErrMuxUnavailable):
		writeError(w, http.StatusServiceUnavailable, "MUX_UNAVAILABLE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	projects, agents := s.store.Snapshot()
	muxAvailable := s.liveness != nil && s.liveness.Available()

	resp := map[string]any{
		"uptime":       time.Since(s.startTime).Seconds(),
		"projects":     projects,
		"agents":       agents,
		"muxAvailable": muxAvailable,
		"version":      Version,
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/subscriptions
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": s.subscriptions.List()})
}

// routeProjectsCollection handles GET/POST on /api/v1/projects itself.
func (s *Server) routeProjectsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"projects": s.mgr.ListProjects()})
	case http.MethodPost:
		s.handleCreateProject(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string           `json:"name"`
		Cwd      string           `json:"cwd"`
		Callback *domain.Callback `json:"callback,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := s.mgr.CreateProject(r.Context(), body.Name, body.Cwd, body.Callback)
	if err != nil {
		mapManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": p})
}

// routeProjects dispatches everything under /api/v1/projects/<name>/...
func (s *Server) routeProjects(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/projects/")
	segments := splitPath(path)
	if len(segments) == 0 {
		s.routeProjectsCollection(w, r)
		return
	}
	project := segments[0]

	if len(segments) == 1 {
		s.routeProjectDetail(w, r, project)
		return
	}

	if segments[1] == "events" && len(segments) == 2 {
		s.handleProjectEvents(w, r, project)
		return
	}

	if segments[1] != "agents" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
		return
	}

	if len(segments) == 2 {
		s.routeAgentsCollection(w, r, project)
		return
	}

	agentID := segments[2]
	if len(segments) == 3 {
		s.routeAgentDetail(w, r, project, agentID)
		return
	}

	action := segments[3]
	switch {
	case action == "input" && len(segments) == 4:
		s.handleAgentInput(w, r, project, agentID)
	case action == "abort" && len(segments) == 4:
		s.handleAgentAbort(w, r, project, agentID)
	case action == "output" && len(segments) == 4:
		s.handleAgentOutput(w, r, project, agentID)
	case action == "debug" && len(segments) == 4:
		s.handleAgentDebug(w, r, project, agentID)
	case action == "events" && len(segments) == 4:
		s.handleAgentEvents(w, r, project, agentID)
	case action == "messages" && len(segments) == 4:
		s.handleAgentMessages(w, r, project, agentID)
	case action == "messages" && len(segments) == 5 && segments[4] == "last":
		s.handleAgentLastMessage(w, r, project, agentID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
	}
}

func (s *Server) routeProjectDetail(w http.ResponseWriter, r *http.Request, project string) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.mgr.GetProject(project)
		if err != nil {
			mapManagerErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": p})
	case http.MethodPatch:
		var body struct {
			Callback *domain.Callback `json:"callback"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		p, err := s.mgr.UpdateProject(project, body.Callback)
		if err != nil {
			mapManagerErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": p})
	case http.MethodDelete:
		if err := s.mgr.DeleteProject(r.Context(), project); err != nil {
			mapManagerErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) routeAgentsCollection(w http.ResponseWriter, r *http.Request, project string) {
	switch r.Method {
	case http.MethodGet:
		agents, err := s.mgr.ListAgents(project)
		if err != nil {
			mapManagerErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
	case http.MethodPost:
		s.handleCreateAgent(w, r, project)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request, project string) {
	var body struct {
		ID             string           `json:"id,omitempty"`
		Provider       string           `json:"provider"`
		Task           string           `json:"task"`
		Model          string           `json:"model,omitempty"`
		SubscriptionID string           `json:"subscriptionId,omitempty"`
		Callback       *domain.Callback `json:"callback,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	a, err := s.mgr.CreateAgent(r.Context(), project, manager.AgentSpec{
		ID:             body.ID,
		Provider:       body.Provider,
		Task:           body.Task,
		Model:          body.Model,
		SubscriptionID: body.SubscriptionID,
		Callback:       body.Callback,
	})
	if err != nil {
		mapManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"agent": a})
}

func (s *Server) routeAgentDetail(w http.ResponseWriter, r *http.Request, project, agentID string) {
	switch r.Method {
	case http.MethodGet:
		a, err := s.mgr.GetAgent(project, agentID)
		if err != nil {
			mapManagerErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agent": a})
	case http.MethodDelete:
		if err := s.mgr.DeleteAgent(r.Context(), project, agentID); err != nil {
			mapManagerErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleAgentInput(w http.ResponseWriter, r *http.Request, project, agentID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.mgr.SendInput(r.Context(), project, agentID, body.Text); err != nil {
		mapManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": true})
}

func (s *Server) handleAgentAbort(w http.ResponseWriter, r *http.Request, project, agentID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if err := s.mgr.AbortAgent(r.Context(), project, agentID); err != nil {
		mapManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aborted": true})
}

// GET .../output?lines=N — live scrollback capture, not the poller's
// cached lastCapturedOutput, so an operator always sees the current pane.
func (s *Server) handleAgentOutput(w http.ResponseWriter, r *http.Request, project, agentID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	a, err := s.mgr.GetAgent(project, agentID)
	if err != nil {
		mapManagerErr(w, err)
		return
	}

	lines := s.cfgMgr.Get().General.CaptureLines
	if q := r.URL.Query().Get("lines"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			lines = n
		}
	}

	output, err := s.mux.CapturePane(r.Context(), a.MuxTarget, lines)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "MUX_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"output": output})
}

// GET .../messages?limit&role — structured messages if provider
// internals are present. CreateAgent populates providerRuntimeDir/
// providerSessionFile by convention, but no internals-file reader is
// wired up yet, so this always reports a degraded-but-successful shape
// rather than failing the request.
func (s *Server) handleAgentMessages(w http.ResponseWriter, r *http.Request, project, agentID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if _, err := s.mgr.GetAgent(project, agentID); err != nil {
		mapManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":        []any{},
		"parseErrorCount": 0,
		"warnings":        []string{"structured messages unavailable: no provider-internals reader configured for this agent"},
	})
}

// GET .../messages/last
func (s *Server) handleAgentLastMessage(w http.ResponseWriter, r *http.Request, project, agentID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	a, err := s.mgr.GetAgent(project, agentID)
	if err != nil {
		mapManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": a.LastTextMessage})
}

func (s *Server) handleAgentDebug(w http.ResponseWriter, r *http.Request, project, agentID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	recent := s.bus.History(bus.Filter{Project: project, AgentID: agentID}, "", 50)
	bundle, err := s.mgr.GetAgentDebug(r.Context(), project, agentID, recent)
	if err != nil {
		mapManagerErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// GET .../projects/<p>/events — SSE stream filtered to one project.
func (s *Server) handleProjectEvents(w http.ResponseWriter, r *http.Request, project string) {
	if _, err := s.mgr.GetProject(project); err != nil {
		mapManagerErr(w, err)
		return
	}
	s.serveSSE(w, r, bus.Filter{Project: project})
}

// GET .../agents/<id>/events — SSE stream filtered to one agent.
func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request, project, agentID string) {
	if _, err := s.mgr.GetAgent(project, agentID); err != nil {
		mapManagerErr(w, err)
		return
	}
	s.serveSSE(w, r, bus.Filter{Project: project, AgentID: agentID})
}

// serveSSE writes standard id:/event:/data: frames, replaying history
// since the caller's since=evt-N cursor, then live events, then 15s
// heartbeats. A subscriber whose 1024-event queue overflows is
// disconnected; the daemon itself stays healthy.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter bus.Filter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}
	connID := uuid.NewString()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Connection-Id", connID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	since := r.URL.Query().Get("since")
	for _, e := range s.bus.History(filter, since, 0) {
		writeSSEFrame(w, e)
	}
	flusher.Flush()

	events := make(chan domain.NormalizedEvent, sseQueueDepth)
	overflow := make(chan struct{}, 1)
	unsubscribe := s.bus.Subscribe(filter, func(e domain.NormalizedEvent) {
		select {
		case events <- e:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-overflow:
			s.logger.Warn("sse: slow consumer disconnected", "connId", connID, "path", r.URL.Path)
			return
		case e := <-events:
			writeSSEFrame(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, "event: heartbeat\ndata:\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, e domain.NormalizedEvent) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
}

// routeWebhook serves webhook dispatcher diagnostics: delivery status
// and a probe-receiver test endpoint.
func (s *Server) routeWebhook(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/v1/webhook/")
	switch action {
	case "status":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deliveries": s.dispatcher.Status()})
	case "test", "probe-receiver":
		s.handleWebhookProbe(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
	}
}

func (s *Server) handleWebhookProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var body struct {
		URL   string `json:"url"`
		Token string `json:"token,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "url is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.dispatcher.ProbeReceiver(ctx, body.URL, body.Token); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"reachable": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reachable": true})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body required")
		return false
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
