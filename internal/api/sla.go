package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
)

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p domain.SLAPolicy
	if !httputil.Decode(w, r, &p) {
		return
	}
	if err := s.svc.SLA.CreatePolicy(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, p)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.SLA.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, p)
}

type applySLARequest struct {
	PolicyID string `json:"policy_id"`
}

func (s *Server) handleApplySLA(w http.ResponseWriter, r *http.Request) {
	var req applySLARequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	applied, err := s.svc.SLA.Apply(r.Context(), chi.URLParam(r, "id"), req.PolicyID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, applied)
}

func (s *Server) handleActiveSLA(w http.ResponseWriter, r *http.Request) {
	applied, err := s.svc.SLA.Active(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, applied)
}
