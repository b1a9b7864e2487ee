package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antigravity-dev/warden/internal/config"
)

// AuthMiddleware enforces the bearer-token policy: when a token is
// configured, every wrapped route requires it; when none is
// configured, requireLocalOnly optionally restricts access to loopback
// and private addresses. Every decision is appended to an audit log
// when one is configured.
type AuthMiddleware struct {
	cfg       config.API
	logger    *slog.Logger
	auditFile *os.File
}

// NewAuthMiddleware builds an AuthMiddleware, opening the audit log file
// if one is configured.
func NewAuthMiddleware(cfg config.API, logger *slog.Logger) (*AuthMiddleware, error) {
	am := &AuthMiddleware{cfg: cfg, logger: logger}

	if cfg.AuditLog != "" {
		path := config.ExpandHome(cfg.AuditLog)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log %q: %w", path, err)
		}
		am.auditFile = f
	}
	return am, nil
}

// Close closes the audit log file, if one is open.
func (am *AuthMiddleware) Close() error {
	if am.auditFile != nil {
		return am.auditFile.Close()
	}
	return nil
}

// AuditEvent is one JSON-lines audit record.
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	RemoteAddr string    `json:"remoteAddr"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Authorized bool      `json:"authorized"`
	Token      string    `json:"token,omitempty"`
	Error      string    `json:"error,omitempty"`
	StatusCode int       `json:"statusCode"`
	Duration   string    `json:"duration"`
}

func (am *AuthMiddleware) logAuditEvent(event AuditEvent) {
	if am.auditFile == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		am.logger.Error("auth: marshal audit event failed", "error", err)
		return
	}
	if _, err := am.auditFile.Write(append(data, '\n')); err != nil {
		am.logger.Error("auth: write audit event failed", "error", err)
	}
}

func truncateToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "****"
}

func isLocalRequest(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func (am *AuthMiddleware) isValidToken(token string) bool {
	return token != "" && am.cfg.AuthToken != "" && token == am.cfg.AuthToken
}

// RequireAuth wraps next with the bearer-token / local-only policy,
// recording every decision to the audit log.
func (am *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		event := AuditEvent{Timestamp: start, RemoteAddr: r.RemoteAddr, Method: r.Method, Path: r.URL.Path}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			event.StatusCode = rec.status
			event.Duration = time.Since(start).String()
			am.logAuditEvent(event)
		}()

		if am.cfg.AuthToken == "" {
			if am.cfg.RequireLocalOnly && !isLocalRequest(r.RemoteAddr) {
				event.Authorized = false
				event.Error = "non-local request rejected (requireLocalOnly=true)"
				writeError(rec, http.StatusForbidden, "FORBIDDEN", "non-local requests not allowed")
				return
			}
			event.Authorized = true
			next(rec, r)
			return
		}

		token := extractToken(r)
		event.Token = truncateToken(token)
		if !am.isValidToken(token) {
			event.Authorized = false
			event.Error = "invalid or missing token"
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(rec, http.StatusUnauthorized, "UNAUTHORIZED", "valid bearer token required")
			return
		}

		event.Authorized = true
		next(rec, r)
	}
}

// statusRecorder captures the status code a handler wrote, for audit
// logging, without altering response semantics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
