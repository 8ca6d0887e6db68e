package server

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/export"
	"github.com/joss/buildlab/internal/history"
	"github.com/joss/buildlab/internal/logging"
	"github.com/joss/buildlab/internal/merge"
	"github.com/joss/buildlab/internal/session"
)

// entry is one live session in the registry.
type entry struct {
	ctrl      *session.Controller
	createdAt time.Time

	mu        sync.Mutex
	projectID string
	last      *session.Notification
}

func (e *entry) record(n session.Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &n
}

func (e *entry) project() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectID
}

type notificationView struct {
	Kind    domain.ErrorKind `json:"kind,omitempty"`
	Message string           `json:"message"`
	Query   string           `json:"query,omitempty"`
	At      time.Time        `json:"at"`
}

type sessionView struct {
	ID               string            `json:"id"`
	Mode             domain.Mode       `json:"mode"`
	State            string            `json:"state"`
	InputLocked      bool              `json:"inputLocked"`
	PendingQuery     string            `json:"pendingQuery"`
	Turns            int               `json:"turns"`
	Files            int               `json:"files"`
	Fingerprint      string            `json:"fingerprint"`
	ProjectID        string            `json:"projectId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	LastNotification *notificationView `json:"lastNotification,omitempty"`
}

func (e *entry) view() sessionView {
	snap := e.ctrl.Snapshot()
	v := sessionView{
		ID:           snap.ID,
		Mode:         snap.Mode,
		State:        snap.State.String(),
		InputLocked:  snap.InputLocked(),
		PendingQuery: snap.PendingQuery,
		Turns:        len(snap.Turns),
		Files:        len(snap.Tree),
		Fingerprint:  fmt.Sprintf("%016x", snap.Fingerprint),
		CreatedAt:    e.createdAt,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	v.ProjectID = e.projectID
	if e.last != nil {
		v.LastNotification = &notificationView{
			Kind:    e.last.Kind,
			Message: e.last.Message,
			Query:   e.last.Query,
			At:      e.last.At,
		}
	}
	return v
}

var errUnsupportedMode = errors.New("unsupported mode")

// openSession starts a controller, resuming projectID when set.
func (s *Server) openSession(ctx context.Context, mode domain.Mode, projectID string) (*entry, error) {
	machine := s.cfg.Machines[mode]
	if machine == nil {
		return nil, fmt.Errorf("%w: %s", errUnsupportedMode, mode)
	}

	var opts []session.Option
	if projectID != "" {
		if s.cfg.Projects == nil {
			return nil, errNoProjects
		}
		tree, turns, err := s.cfg.Projects.LoadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithHistory(history.New(turns...)), session.WithTree(tree))
	}

	ctrl := session.NewController(machine, s.cfg.Provider, opts...)
	e := &entry{ctrl: ctrl, createdAt: s.now(), projectID: projectID}

	s.mu.Lock()
	s.sessions[ctrl.ID()] = e
	s.mu.Unlock()

	// Drain notifications so the controller never drops them; the latest
	// one is reported by GET /sessions/{id}.
	s.wg.Add(1)
	logging.SafeGo("server", func() {
		defer s.wg.Done()
		for n := range ctrl.Notifications() {
			var latency int64
			if n.Turn != nil {
				latency = n.Turn.LatencyMs
			}
			s.cfg.Metrics.RecordOutcome(n.Kind, latency)
			e.record(n)
		}
	})

	s.cfg.Metrics.RecordSession(true)
	s.log.Info("session_opened", map[string]interface{}{
		"session": ctrl.ID(),
		"mode":    string(mode),
		"project": projectID,
	})
	return e, nil
}

type ctxKey struct{}

func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.mu.RLock()
		e, ok := s.sessions[id]
		s.mu.RUnlock()
		if !ok {
			writeError(w, http.StatusNotFound, "session not found: "+id)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, e)))
	})
}

func entryFrom(r *http.Request) *entry {
	return r.Context().Value(ctxKey{}).(*entry)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})
	views := make([]sessionView, 0, len(entries))
	for _, e := range entries {
		views = append(views, e.view())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode      string `json:"mode"`
		ProjectID string `json:"projectId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := s.openSession(r.Context(), mode, req.ProjectID)
	switch {
	case errors.Is(err, errUnsupportedMode):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, errNoProjects):
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	case err != nil:
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e.view())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, entryFrom(r).view())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	e := entryFrom(r)
	s.mu.Lock()
	current, ok := s.sessions[e.ctrl.ID()]
	removed := ok && current == e
	if removed {
		delete(s.sessions, e.ctrl.ID())
	}
	s.mu.Unlock()

	if !removed {
		writeError(w, http.StatusNotFound, "session not found: "+e.ctrl.ID())
		return
	}
	e.ctrl.Close()
	s.cfg.Metrics.RecordSession(false)
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit starts a generation. The outcome is observed by polling the
// session: a new turn, or a lastNotification describing the failure.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	e := entryFrom(r)

	var req struct {
		Query string `json:"query"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	err := e.ctrl.Submit(req.Query)
	if err == nil {
		s.cfg.Metrics.RecordSubmit()
		writeJSON(w, http.StatusAccepted, e.view())
		return
	}
	if errors.Is(err, session.ErrClosed) {
		writeError(w, http.StatusGone, err.Error())
		return
	}

	kind := domain.Classify(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindEmptyQuery:
		status = http.StatusBadRequest
	case domain.KindConcurrentSubmission:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: session.MessageFor(kind), Kind: string(kind)})
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, entryFrom(r).ctrl.Snapshot().Turns)
}

// handleExportTurn downloads turn n (0-based) as a JSON attachment.
func (s *Server) handleExportTurn(w http.ResponseWriter, r *http.Request) {
	turns := entryFrom(r).ctrl.Snapshot().Turns
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 0 || n >= len(turns) {
		writeError(w, http.StatusNotFound, "turn not found: "+chi.URLParam(r, "n"))
		return
	}

	data, err := export.MarshalTurn(turns[n])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.TurnFilename(turns[n].Query)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	snap := entryFrom(r).ctrl.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"files":       snap.Tree,
		"paths":       snap.Tree.Paths(),
		"fingerprint": fmt.Sprintf("%016x", snap.Fingerprint),
	})
}

// handleFile serves the raw content of one file in the session tree.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	p, ok := merge.NormalizePath(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	entry, ok := entryFrom(r).ctrl.Snapshot().Tree[p]
	if !ok {
		writeError(w, http.StatusNotFound, "file not found: "+p)
		return
	}

	ctype := mime.TypeByExtension(path.Ext(p))
	if ctype == "" {
		ctype = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(entry.Code))
}

// handleSave writes the session's tree and history to its project. A
// session without a project creates one from the request body first.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Projects == nil {
		writeError(w, http.StatusNotImplemented, errNoProjects.Error())
		return
	}
	e := entryFrom(r)

	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ctx := r.Context()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.projectID == "" {
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required for a session without a project")
			return
		}
		p, err := s.cfg.Projects.Create(ctx, req.Name, req.Description, req.Owners)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		e.projectID = p.ID
	}

	snap := e.ctrl.Snapshot()
	err := s.cfg.Projects.SaveProject(ctx, e.projectID, snap.Tree, snap.Turns)
	s.cfg.Metrics.RecordSave(err == nil)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("session_saved", map[string]interface{}{
		"session": snap.ID,
		"project": e.projectID,
		"turns":   len(snap.Turns),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"projectId": e.projectID,
		"turns":     len(snap.Turns),
		"files":     len(snap.Tree),
	})
}
