package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/store"
)

// ViewInfo describes one configured view.
type ViewInfo struct {
	Name     string `json:"name"`
	Topic    string `json:"topic"`
	Rows     int    `json:"rows"`
	Messages int    `json:"messages"`
	Revision int64  `json:"revision"`
}

// RowsResponse is the body of GET /views/{view}/rows.
type RowsResponse struct {
	View     string   `json:"view"`
	Revision int64    `json:"revision"`
	Rows     []ir.Row `json:"rows"`
}

// MessagesResponse is the body of GET /views/{view}/messages.
type MessagesResponse struct {
	View     string   `json:"view"`
	Messages []string `json:"messages"`
}

// EditRequest is the body of PATCH /views/{view}/rows/{id}.
type EditRequest struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value"`
}

// IngestRequest carries the message array of an outbound call's response.
type IngestRequest struct {
	Message []string `json:"message" validate:"required,min=1"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleViews(w http.ResponseWriter, _ *http.Request) {
	views := make([]ViewInfo, 0, len(s.engine.Views()))
	for _, name := range s.engine.Views() {
		t, err := s.engine.Table(name)
		if err != nil {
			continue
		}
		topic, _ := s.engine.Topic(name)
		views = append(views, ViewInfo{
			Name:     name,
			Topic:    topic,
			Rows:     len(t.Get()),
			Messages: len(t.Messages()),
			Revision: t.Revision(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// table resolves the {view} parameter, writing 404 when unknown.
func (s *Server) table(w http.ResponseWriter, r *http.Request) (*store.Table, bool) {
	t, err := s.engine.Table(chi.URLParam(r, "view"))
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	return t, true
}

func (s *Server) handleGetRows(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	rows := t.Get()
	if rows == nil {
		rows = []ir.Row{}
	}
	writeJSON(w, http.StatusOK, RowsResponse{View: t.Name(), Revision: t.Revision(), Rows: rows})
}

func (s *Server) handleReplaceRows(w http.ResponseWriter, r *http.Request) {
	var rows []ir.Row
	if !s.decode(w, r, &rows, false) {
		return
	}
	s.command(w, r, engine.ReplaceRows{Rows: rows}, http.StatusOK)
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	var row ir.Row
	if !s.decode(w, r, &row, false) {
		return
	}
	s.command(w, r, engine.AddRow{Row: row}, http.StatusCreated)
}

func (s *Server) handleClearRows(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, engine.ClearRows{}, http.StatusOK)
}

func (s *Server) handleEditField(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	s.command(w, r, engine.EditField{
		ID:    chi.URLParam(r, "id"),
		Field: req.Field,
		Value: req.Value,
	}, http.StatusOK)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	msgs := t.Messages()
	if msgs == nil {
		msgs = []string{}
	}
	writeJSON(w, http.StatusOK, MessagesResponse{View: t.Name(), Messages: msgs})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	if err := s.submit(r.Context(), t.Name(), engine.ClearMessages{}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{View: t.Name(), Messages: []string{}})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	view := chi.URLParam(r, "view")
	err := s.do(r.Context(), engine.Event{
		Type:  engine.EventTypeIngest,
		View:  view,
		Lines: req.Message,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeRows(w, view, http.StatusAccepted)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var o engine.Outcome
	if !s.decode(w, r, &o, false) {
		return
	}
	s.command(w, r, engine.RecordOutcome{Outcome: o}, http.StatusOK)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var results []engine.VerificationResult
	if !s.decode(w, r, &results, false) {
		return
	}
	s.command(w, r, engine.VerifyRows{Results: results}, http.StatusOK)
}

// handleEvents streams table snapshots as server-sent events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}

	snaps, cancel := t.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-snaps:
			if !open {
				return
			}
			data, err := json.Marshal(RowsResponse{View: snap.Table, Revision: snap.Revision, Rows: snap.Rows})
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", snap.Revision, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// command submits cmd for the {view} parameter and answers with the
// resulting rows.
func (s *Server) command(w http.ResponseWriter, r *http.Request, cmd engine.Command, status int) {
	view := chi.URLParam(r, "view")
	if err := s.submit(r.Context(), view, cmd); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeRows(w, view, status)
}

func (s *Server) writeRows(w http.ResponseWriter, view string, status int) {
	t, err := s.engine.Table(view)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	rows := t.Get()
	if rows == nil {
		rows = []ir.Row{}
	}
	writeJSON(w, status, RowsResponse{View: view, Revision: t.Revision(), Rows: rows})
}
