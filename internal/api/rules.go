package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
)

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AutomationRule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	if err := s.svc.Automation.CreateRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.Automation.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AutomationRule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := s.svc.Automation.UpdateRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, rule)
}

func (s *Server) handleRuleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	logs, err := s.svc.Automation.EvaluationLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"logs": logs})
}
