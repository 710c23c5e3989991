package api

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/admin"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

func (s *server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.Admin.Settings(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) putSettings(w http.ResponseWriter, r *http.Request) {
	var next admin.Settings
	if err := decode(r, &next); err != nil {
		fail(w, r, err)
		return
	}
	st, err := s.Admin.UpdateSettings(r.Context(), next)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Admin.Users(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := store.AuditFilter{
		Action: q.Get("action"),
		Status: q.Get("status"),
		User:   q.Get("user"),
		Limit:  limit,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(w, r, eris.Wrap(errBadRequest, "since must be an RFC 3339 timestamp"))
			return
		}
		f.Since = since
	}
	entries, total, err := s.Admin.AuditLog(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *server) archiveActions(w http.ResponseWriter, r *http.Request) {
	res, err := s.Admin.Archive(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
