// ABOUTME: Operator endpoints for inspecting bindings and service health
// ABOUTME: Mounted only when an operator JWT secret is configured

package server

import (
	"net/http"

	"github.com/tapgate/tapgate/internal/auth"
)

type statsResponse struct {
	Users          int  `json:"users"`
	Bindings       int  `json:"bindings"`
	ActiveSessions int  `json:"active_sessions"`
	PendingWindows int  `json:"pending_windows"`
	DynamicMode    bool `json:"dynamic_mode"`
}

// handleOpsBindings lists every card binding for operator inspection.
func (s *Server) handleOpsBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.store.ListBindings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("bindings listed", "operator", auth.OperatorFromContext(r.Context()), "count", len(bindings))
	writeJSON(w, http.StatusOK, bindings)
}

// handleOpsStats reports counters for dashboards and smoke checks.
func (s *Server) handleOpsStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.CountUsers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	bindings, err := s.store.ListBindings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Users:          users,
		Bindings:       len(bindings),
		ActiveSessions: s.sessions.Count(),
		PendingWindows: s.pending.Count(),
		DynamicMode:    s.verifier.DynamicEnabled(),
	})
}
