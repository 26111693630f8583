package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"taskfeed/internal/app"
	"taskfeed/internal/config"
	"taskfeed/internal/feed"
	"taskfeed/internal/ics"
	appLog "taskfeed/internal/log"
	"taskfeed/internal/task"
)

// Server exposes the feed and task operations over HTTP.
type Server struct {
	app    *app.Service
	auth   *config.BasicAuthConfig
	router chi.Router
}

// NewServer constructs a new Server. auth may be nil.
func NewServer(svc *app.Service, auth *config.BasicAuthConfig) *Server {
	s := &Server{
		app:    svc,
		auth:   auth,
		router: chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.auth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.auth.Username != "" && s.auth.Password != ""
}

// basicAuthMiddleware rejects requests without the configured credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.auth.Username
	password := s.auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="taskfeed", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	// /health is always reachable without credentials.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled")
			r.Use(s.basicAuthMiddleware)
		}

		r.Route("/api/feeds/{kind}", func(r chi.Router) {
			r.Get("/events", s.handleEvents)
			r.Post("/sync", s.handleSync)
			r.Get("/verify", s.handleVerify)
		})
		r.Get("/api/integrations/status", s.handleStatus)

		r.Get("/api/tasks.ics", s.handleExport)
		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{id}", s.handleGetTask)
			r.Patch("/{id}", s.handlePatchTask)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// requestLogger logs one line per request once the response is written.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	var (
		cfgErr       *app.ConfigurationError
		fetchErr     *feed.FetchError
		transportErr *ics.TransportError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrUnknownFeed):
		return http.StatusNotFound
	case errors.As(err, &fetchErr), errors.As(err, &transportErr):
		return http.StatusBadGateway
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Unmapped errors are
// logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseBoolDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
