// Package httpapi exposes the orchestration core over HTTP: project
// bootstrap, chat, the task API, message listings, artifacts and a websocket
// event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	scribeflow "github.com/scribeflow/scribeflow"
	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/logging"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server handles HTTP requests against the orchestrator.
type Server struct {
	orch   *scribeflow.Orchestrator
	logger logging.Logger
}

// NewServer constructs the HTTP layer.
func NewServer(orch *scribeflow.Orchestrator, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Server{orch: orch, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{projectID}", s.handleGetProject)
		r.Post("/projects/{projectID}/tasks", s.handleCreateTask)
		r.Get("/projects/{projectID}/tasks", s.handleListTasks)
		r.Get("/projects/{projectID}/events", s.handleEvents)
		r.Put("/projects/{projectID}/artifacts/{name}", s.handlePutArtifact)
		r.Get("/projects/{projectID}/artifacts/{name}", s.handleGetArtifact)

		r.Get("/tasks/{taskID}", s.handleGetTask)

		r.Post("/sessions/{sessionID}/messages", s.handleChat)
		r.Get("/sessions/{sessionID}/messages", s.handleListMessages)
		r.Post("/sessions/{sessionID}/cancel", s.handleCancel)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Store().Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProjectRequest struct {
	AgentName string `json:"agent_name,omitempty"`
}

type createProjectResponse struct {
	Project *core.Project `json:"project"`
	Session *core.Session `json:"session"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	project, sess, err := s.orch.CreateProject(r.Context(), req.AgentName)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createProjectResponse{Project: project, Session: sess})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.orch.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, project)
}

type createTaskRequest struct {
	Type           string          `json:"type"`
	Input          json.RawMessage `json:"input"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type createTaskResponse struct {
	Task    *core.Task `json:"task"`
	Created bool       `json:"created"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required")
		return
	}
	t, created, err := s.orch.CreateTask(r.Context(), chi.URLParam(r, "projectID"), req.Type, req.Input, req.IdempotencyKey)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, createTaskResponse{Task: t, Created: created})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.orch.ListProjectTasks(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "text is required")
		return
	}
	msg, err := s.orch.Chat(r.Context(), chi.URLParam(r, "sessionID"), req.Text)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.orch.GetSession(r.Context(), sessionID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	var msgs []*core.Message
	var err error
	if threadID := r.URL.Query().Get("thread_id"); threadID != "" {
		msgs, err = s.orch.ListThreadMessages(r.Context(), sessionID, threadID)
	} else {
		msgs, err = s.orch.ListMessages(r.Context(), sessionID)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.CancelChat(chi.URLParam(r, "sessionID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) handlePutArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.orch.PutArtifact(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "name"), data); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := s.orch.GetArtifact(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return false
	}
	return true
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeDomainError maps coded domain errors onto HTTP statuses. Contention
// is 409 so clients retry; validation failures are 422; unknown errors stay
// opaque 500s.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case core.CodeNotFound:
		status = http.StatusNotFound
	case core.CodeSessionBusy, core.CodeSessionHandoffProcessing:
		status = http.StatusConflict
	case core.CodeSessionRequired, core.CodeWrongPhase, core.CodeAgentNotFound,
		core.CodeSameAgent, core.CodeNotLocked:
		status = http.StatusUnprocessableEntity
	case core.CodeLoopCanceled:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.writeError(w, status, "INTERNAL", "internal error")
		return
	}
	s.writeError(w, status, code, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}
