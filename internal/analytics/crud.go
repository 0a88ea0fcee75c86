package analytics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

const (
	listStaticLimit   = 500
	listPerfLimit     = 500
	listActivityLimit = 1000
)

// Manual-correction bodies are flat: envelope fields and payload fields at
// the same level.
type flatEnvelope struct {
	SessionID string `json:"sessionId"`
	Page      string `json:"page"`
	TS        *int64 `json:"ts"`
}

func (f flatEnvelope) event(t EventType) Event {
	return Event{SessionID: f.SessionID, Page: f.Page, TS: f.TS, Type: t}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleListStatic(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListStatic(r.Context(), listStaticLimit)
	if err != nil {
		s.fail(w, r, "list static", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetStatic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	row, err := s.store.GetStatic(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get static", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCreateStatic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		flatEnvelope
		StaticPayload
	}
	if !decodeBody(w, r, &body) {
		return
	}
	row := buildStatic(body.event(EventStatic), body.StaticPayload, s.now())
	res, err := s.store.InsertStatic(r.Context(), row)
	if err != nil {
		s.fail(w, r, "create static", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": res.ID})
}

func (s *Server) handleUpdateStatic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Page *string `json:"page"`
		TS   *int64  `json:"ts"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ts := s.now().UnixMilli()
	if body.TS != nil {
		ts = *body.TS
	}
	if err := s.store.UpdateStatic(r.Context(), id, body.Page, ts); err != nil {
		s.fail(w, r, "update static", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteStatic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteStatic(r.Context(), id); err != nil {
		s.fail(w, r, "delete static", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListPerf(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListPerf(r.Context(), listPerfLimit)
	if err != nil {
		s.fail(w, r, "list performance", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreatePerf(w http.ResponseWriter, r *http.Request) {
	var body struct {
		flatEnvelope
		PerfPayload
	}
	if !decodeBody(w, r, &body) {
		return
	}
	row, err := buildPerf(body.event(EventPerf), body.PerfPayload, s.now())
	if err != nil {
		s.fail(w, r, "create performance", err)
		return
	}
	res, err := s.store.InsertPerf(r.Context(), row)
	if err != nil {
		s.fail(w, r, "create performance", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": res.ID})
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListActivity(r.Context(), listActivityLimit)
	if err != nil {
		s.fail(w, r, "list activity", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		flatEnvelope
		ActivityPayload
	}
	if !decodeBody(w, r, &body) {
		return
	}
	row := buildActivity(body.event(EventActivity), body.ActivityPayload, s.now())
	res, err := s.store.InsertActivity(r.Context(), row)
	if err != nil {
		s.fail(w, r, "create activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": res.ID})
}
