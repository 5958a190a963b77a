package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"crewfleet.hub/internal/core/domain"
)

type createAgentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type addTaskRequest struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
}

type completeTaskRequest struct {
	Success *bool `json:"success"`
}

type logLineRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Store().List())
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.dashboard.Create(req.ID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.dashboard.Store().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var patch domain.AgentPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.dashboard.Update(chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dashboard.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted", "agent_id": id})
}

func (s *Server) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Action == "" {
		writeDetail(w, http.StatusBadRequest, "Missing action")
		return
	}
	rec, message, err := s.dashboard.Action(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": message, "agent": rec})
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.dashboard.AddTask(chi.URLParam(r, "id"), req.TaskID, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req completeTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	success := req.Success == nil || *req.Success
	rec, err := s.dashboard.CompleteTask(chi.URLParam(r, "id"), chi.URLParam(r, "taskId"), success)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLogLine(w http.ResponseWriter, r *http.Request) {
	var req logLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Message == "" {
		writeDetail(w, http.StatusBadRequest, "Missing message")
		return
	}
	s.dashboard.LogLine(chi.URLParam(r, "id"), req.Level, req.Message)
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "queued"})
}
