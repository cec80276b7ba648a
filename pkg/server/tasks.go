package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/pkg/task"
)

type createTaskRequest struct {
	AgentPath string         `json:"agentPath"`
	Message   string         `json:"message"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type taskCreatedResponse struct {
	TaskID    string     `json:"taskId"`
	Status    task.State `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

type taskListResponse struct {
	Tasks []*task.Task `json:"tasks"`
}

type taskCancelResponse struct {
	TaskID    string     `json:"taskId"`
	Status    task.State `json:"status"`
	Cancelled bool       `json:"cancelled"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.AgentPath) == "" {
		writeError(w, r, badRequest("agentPath is required"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, badRequest("message is required"))
		return
	}

	t, err := s.executor.CreateTask(r.Context(), req.AgentPath, req.Message, req.ContextID, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, taskCreatedResponse{
		TaskID:    t.ID,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.executor.ListTasks(r.URL.Query().Get("agentPath"))
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.executor.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled := s.executor.CancelTask(id)

	t, err := s.executor.GetTask(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskCancelResponse{
		TaskID:    t.ID,
		Status:    t.Status,
		Cancelled: cancelled,
	})
}

// handleTaskStream serves the task's event stream as named SSE events.
// Aborting the response mid-stream cancels the underlying execution via
// the request context.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	events, err := s.executor.StreamTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	for event := range events {
		if err := stream.writeEvent(event.Type, event); err != nil {
			return
		}
	}
}
