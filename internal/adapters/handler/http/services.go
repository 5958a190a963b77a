package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"crewfleet.hub/internal/core/domain"
	"crewfleet.hub/internal/core/services"
)

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.forwarder.Services())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.ServiceURL == "" {
		writeDetail(w, http.StatusBadRequest, "Missing id or serviceUrl")
		return
	}

	s.registry.Register(req.ID, req.ServiceURL, req.Metadata)
	SetRegisteredServices(s.registry.Count())
	writeJSON(w, http.StatusOK, domain.ServiceAck{Message: "registered", AgentID: req.ID})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeDetail(w, http.StatusBadRequest, "Missing id")
		return
	}

	s.registry.Unregister(req.ID)
	SetRegisteredServices(s.registry.Count())
	writeJSON(w, http.StatusOK, domain.ServiceAck{Message: "unregistered", AgentID: req.ID})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeDetail(w, http.StatusBadRequest, "Missing id")
		return
	}

	if s.registry.Heartbeat(req.ID, req.ServiceURL, req.Metadata) {
		SetRegisteredServices(s.registry.Count())
	}
	writeJSON(w, http.StatusOK, domain.ServiceAck{Message: "heartbeat accepted", AgentID: req.ID})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	params, err := readObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.forwarder.Execute(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) handleServiceAction(w http.ResponseWriter, r *http.Request) {
	body, err := readObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.forwarder.Action(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := queryInt(r, "lines", services.DefaultLogLines, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.forwarder.Logs(r.Context(), chi.URLParam(r, "id"), lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.forwarder.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) handleServiceAudit(w http.ResponseWriter, r *http.Request) {
	if s.opts.Auditor == nil {
		writeDetail(w, http.StatusNotFound, "audit disabled")
		return
	}
	limit, err := queryInt(r, "limit", 50, 500)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.opts.Auditor.ListActions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.ActionAudit{}
	}
	writeJSON(w, http.StatusOK, entries)
}
