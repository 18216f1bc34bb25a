package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
	"github.com/visibly-ai/statuswatch/internal/watch"
)

type monitorRequest struct {
	EntityID string `json:"entity_id"`
	GroupID  string `json:"group_id"`
}

type monitorGroupRequest struct {
	GroupID   string   `json:"group_id"`
	EntityIDs []string `json:"entity_ids"`
}

func (s *Server) startMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.EntityID == "" {
		writeError(s.logger, w, http.StatusBadRequest, "entity_id required")
		return
	}
	if err := s.monitor.StartMonitoring(r.Context(), req.EntityID, req.GroupID, nil); err != nil {
		writeError(s.logger, w, monitorErrStatus(err), err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"entity_id": req.EntityID})
}

func (s *Server) monitorGroup(w http.ResponseWriter, r *http.Request) {
	var req monitorGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.GroupID == "" {
		writeError(s.logger, w, http.StatusBadRequest, "group_id required")
		return
	}
	if err := s.monitor.MonitorGroup(r.Context(), req.GroupID, req.EntityIDs, nil); err != nil {
		writeError(s.logger, w, monitorErrStatus(err), err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]any{
		"group_id":   req.GroupID,
		"candidates": len(req.EntityIDs),
	})
}

func (s *Server) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")
	if err := s.monitor.StopMonitoring(r.Context(), entityID); err != nil {
		writeError(s.logger, w, monitorErrStatus(err), err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"entity_id": entityID})
}

func (s *Server) stopGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	if err := s.monitor.StopGroup(r.Context(), groupID); err != nil {
		writeError(s.logger, w, monitorErrStatus(err), err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"group_id": groupID})
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	diag, err := s.monitor.Diagnostics(r.Context(), groupID)
	if err != nil {
		writeError(s.logger, w, monitorErrStatus(err), err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, diag)
}

func monitorErrStatus(err error) int {
	switch {
	case errors.Is(err, watch.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, entity.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
