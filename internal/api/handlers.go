package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/export"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	h := s.Collector.Health(r.Context())
	status := http.StatusOK
	if h.LookupEngine == "down" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) {
	res, err := s.Resolver.Resolve(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) listSecurities(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := store.SecurityFilter{
		Query:      strings.TrimSpace(q.Get("q")),
		AssetClass: model.AssetClass(q.Get("asset_class")),
		Exchange:   q.Get("exchange"),
		Status:     model.SecurityStatus(q.Get("status")),
		Limit:      limit,
		Offset:     offset,
	}
	if f.AssetClass != "" && !f.AssetClass.Valid() {
		fail(w, r, eris.Wrapf(errBadRequest, "unknown asset class %q", f.AssetClass))
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		fail(w, r, eris.Wrapf(errBadRequest, "unknown security status %q", f.Status))
		return
	}
	secs, err := s.Store.ListSecurities(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if secs == nil {
		secs = []model.Security{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"securities": secs, "count": len(secs)})
}

func (s *server) listExchanges(w http.ResponseWriter, r *http.Request) {
	ex, err := s.Store.ListExchanges(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if ex == nil {
		ex = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": ex})
}

func (s *server) getSecurity(w http.ResponseWriter, r *http.Request) {
	sec, err := s.Store.GetSecurity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (s *server) securityActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetSecurity(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	f, err := actionFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	f.SecurityID = id
	s.writeActions(w, r, f)
}

// actionFilter reads the action list query parameters. status may repeat or
// hold a comma-separated list.
func actionFilter(r *http.Request) (store.ActionFilter, error) {
	limit, offset, err := page(r)
	if err != nil {
		return store.ActionFilter{}, err
	}
	q := r.URL.Query()
	f := store.ActionFilter{
		Query:           strings.TrimSpace(q.Get("q")),
		SecurityID:      q.Get("security_id"),
		EventType:       model.EventType(q.Get("event_type")),
		Source:          q.Get("source"),
		IncludeArchived: q.Get("include_archived") == "true",
		Limit:           limit,
		Offset:          offset,
	}
	if f.EventType != "" && !f.EventType.Valid() {
		return f, eris.Wrapf(errBadRequest, "unknown event type %q", f.EventType)
	}
	for _, raw := range q["status"] {
		for _, v := range strings.Split(raw, ",") {
			st := model.EventStatus(strings.TrimSpace(v))
			if st == "" {
				continue
			}
			if !st.Valid() {
				return f, eris.Wrapf(errBadRequest, "unknown status %q", st)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	return f, nil
}

func (s *server) listActions(w http.ResponseWriter, r *http.Request) {
	f, err := actionFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.writeActions(w, r, f)
}

func (s *server) writeActions(w http.ResponseWriter, r *http.Request, f store.ActionFilter) {
	actions, err := s.Store.ListActions(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	total, err := s.Store.CountActions(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if actions == nil {
		actions = []model.CorporateAction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": actions,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

func (s *server) getAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.Store.GetAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type statusRequest struct {
	Status model.EventStatus `json:"status"`
}

func (s *server) setActionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	a, err := s.Reconcile.SetActionStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *server) listConflicts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := store.ConflictFilter{
		Status:     model.ConflictStatus(q.Get("status")),
		SecurityID: q.Get("security_id"),
		Limit:      limit,
		Offset:     offset,
	}
	if f.Status != "" && !f.Status.Valid() {
		fail(w, r, eris.Wrapf(errBadRequest, "unknown conflict status %q", f.Status))
		return
	}
	conflicts, err := s.Store.ListConflicts(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	total, err := s.Store.CountConflicts(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts, "total": total})
}

func (s *server) getConflict(w http.ResponseWriter, r *http.Request) {
	c, err := s.Store.GetConflict(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) suggestConflict(w http.ResponseWriter, r *http.Request) {
	sg, err := s.Reconcile.Suggest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

type resolveRequest struct {
	Source string `json:"source"`
	Notes  string `json:"notes"`
}

func (s *server) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		fail(w, r, eris.Wrap(errBadRequest, "source is required"))
		return
	}
	c, err := s.Reconcile.Resolve(r.Context(), chi.URLParam(r, "id"), req.Source, req.Notes)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type archiveRequest struct {
	Notes string `json:"notes"`
}

func (s *server) archiveConflict(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			fail(w, r, err)
			return
		}
	}
	c, err := s.Reconcile.Archive(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) detectConflicts(w http.ResponseWriter, r *http.Request) {
	res, err := s.Detector.Detect(r.Context(), r.URL.Query().Get("security_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) listSources(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.Syncer.Statuses(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	breakers := make(map[string]string)
	for name, st := range s.Syncer.BreakerStates() {
		breakers[name] = st.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": statuses, "breakers": breakers})
}

func (s *server) syncSource(w http.ResponseWriter, r *http.Request) {
	results, err := s.Syncer.SyncAll(r.Context(), chi.URLParam(r, "name"))
	if err != nil && len(results) == 0 {
		fail(w, r, err)
		return
	}
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		msg := results[0].Error
		if msg == "" {
			msg = err.Error()
		}
		writeJSON(w, status, map[string]any{"error": msg, "result": results[0]})
		return
	}
	writeJSON(w, http.StatusOK, results[0])
}

func (s *server) dashboard(w http.ResponseWriter, r *http.Request) {
	m, err := s.Collector.Collect(r.Context(), s.LookbackHours)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": m,
		"health":  s.Collector.Health(r.Context()),
		"lookup":  s.Resolver.Stats(),
	})
}

func (s *server) activity(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		fail(w, r, err)
		return
	}
	items, err := s.Collector.Activity(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if items == nil {
		items = []model.ActivityItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}

func (s *server) exportActions(w http.ResponseWriter, r *http.Request) {
	f, err := actionFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if r.URL.Query().Get("limit") == "" {
		f.Limit = -1
	}
	name := "corporate-actions-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := export.Write(r.Context(), s.Store, f, w); err != nil {
		fail(w, r, err)
	}
}
