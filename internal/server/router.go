package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	Health           HealthService
	API              *APIHandlers
	Uploads          http.Handler
	AllowedOrigins   []string
	AllowCredentials bool
}

// NewRouter wires the HTTP routes exposed by the backend API.
func NewRouter(logger *slog.Logger, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", healthHandler(logger, deps.Health))

	if api := deps.API; api != nil {
		mux.HandleFunc("POST /api/auth/check", api.handleAuthCheck)
		mux.HandleFunc("POST /api/auth", api.handleAuthenticate)
		mux.HandleFunc("POST /api/auth/upgrade-pin", api.authed(api.handleUpgradePin))
		mux.HandleFunc("GET /api/auth/me", api.handleMe)
		mux.HandleFunc("POST /api/auth/logout", api.handleLogout)

		mux.HandleFunc("GET /api/ious", api.authed(api.handleListIOUs))
		mux.HandleFunc("POST /api/ious", api.authed(api.handleCreateIOU))
		mux.HandleFunc("GET /api/ious/archived", api.authed(api.handleListArchived))
		mux.HandleFunc("GET /api/ious/share/{token}", api.handleSharedIOU)
		mux.HandleFunc("GET /api/ious/{id}", api.authed(api.handleGetIOU))
		mux.HandleFunc("PATCH /api/ious/{id}", api.authed(api.handleUpdateIOU))
		mux.HandleFunc("POST /api/ious/{id}/claim", api.authed(api.handleClaimIOU))
		mux.HandleFunc("POST /api/ious/{id}/archive", api.authed(api.handleArchiveIOU))
		mux.HandleFunc("DELETE /api/ious/{id}/archive", api.authed(api.handleUnarchiveIOU))

		mux.HandleFunc("POST /api/upload", api.authed(api.handleUpload))

		mux.HandleFunc("GET /api/notifications", api.authed(api.handleListNotifications))
		mux.HandleFunc("POST /api/notifications/acknowledge", api.authed(api.handleAcknowledge))

		mux.HandleFunc("GET /api/contacts", api.authed(api.handleContacts))
		mux.HandleFunc("GET /api/balance", api.authed(api.handleBalance))
	}

	if deps.Uploads != nil {
		mux.Handle("GET /uploads/", deps.Uploads)
	}

	var handler http.Handler = withRequestLog(logger, mux)
	if len(deps.AllowedOrigins) > 0 {
		handler = newOriginPolicy(deps.AllowedOrigins, deps.AllowCredentials).wrap(handler)
	}
	return handler
}

const requestIDHeader = "X-Request-ID"

// withRequestLog tags every request with an id and logs its outcome. Server
// errors are logged at warn so they stand out from routine traffic.
func withRequestLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if sw.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "request completed",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("bytes", sw.written),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// originPolicy answers CORS requests for the browser client. Session cookies
// only travel cross-origin when credentials are allowed.
type originPolicy struct {
	origins     map[string]bool
	wildcard    bool
	credentials bool
}

func newOriginPolicy(origins []string, credentials bool) originPolicy {
	p := originPolicy{origins: make(map[string]bool, len(origins)), credentials: credentials}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.wildcard = true
		default:
			p.origins[o] = true
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	return origin != "" && (p.wildcard || p.origins[origin])
}

func (p originPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		preflight := r.Method == http.MethodOptions
		if !p.allows(origin) {
			if preflight {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if preflight {
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SplitOrigins parses a comma separated origin list.
func SplitOrigins(csv string) []string {
	var out []string
	for _, o := range strings.Split(csv, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
