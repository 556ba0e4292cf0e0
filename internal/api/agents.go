package api

import (
	"net/http"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
	"github.com/sgunadhya/oxidesk/internal/service/agentsvc"
)

type createAgentRequest struct {
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  *string  `json:"last_name,omitempty"`
	Password  string   `json:"password"`
	Roles     []string `json:"roles"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	agent, err := s.svc.Agents.Create(r.Context(), agentsvc.CreateInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Roles:     req.Roles,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, agent)
}

type setAvailabilityRequest struct {
	Availability domain.Availability `json:"availability"`
}

// handleSetAvailability changes the caller's own availability. Auto-offline
// replay is decided inside the service.
func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req setAvailabilityRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	p := principal(r)
	if err := s.svc.Availability.SetAvailability(r.Context(), p, p.UserID, req.Availability); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}
