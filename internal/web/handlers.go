package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"taskfeed/internal/model"
	"taskfeed/internal/task"
)

const defaultWindowDays = 7

type syncResponse struct {
	Kind    model.FeedKind `json:"kind"`
	Created int            `json:"created"`
	Updated int            `json:"updated"`
	Skipped int            `json:"skipped"`
}

func feedKind(r *http.Request) model.FeedKind {
	return model.FeedKind(chi.URLParam(r, "kind"))
}

// handleEvents lists cached events of one feed.
//
// Query parameters:
//   - days: look-ahead window in days (default 7, 0 or less disables it)
//   - upcoming: when true, drop events that have already ended
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), defaultWindowDays)
	upcoming := parseBoolDefault(q.Get("upcoming"), false)

	page, err := s.app.ListEvents(r.Context(), feedKind(r), days, upcoming)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	kind := feedKind(r)
	res, err := s.app.Sync(r.Context(), kind)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Kind:    kind,
		Created: res.Created,
		Updated: res.Updated,
		Skipped: res.Skipped,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	v, err := s.app.Verify(r.Context(), feedKind(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleStatus reports feed integration status. Repeated ?kind= parameters
// narrow the report.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var kinds []model.FeedKind
	for _, k := range r.URL.Query()["kind"] {
		kinds = append(kinds, model.FeedKind(k))
	}
	st, err := s.app.Status(r.Context(), kinds...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	body, err := s.app.ExportICS(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.Tasks().List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in task.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := s.app.Tasks().Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Tasks().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var p task.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := s.app.Tasks().Patch(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
