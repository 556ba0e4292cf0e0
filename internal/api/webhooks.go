package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
)

type createWebhookRequest struct {
	Name             string             `json:"name"`
	URL              string             `json:"url"`
	SubscribedEvents []domain.EventType `json:"subscribed_events"`
	Secret           string             `json:"secret"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	wh := domain.Webhook{
		Name:             req.Name,
		URL:              req.URL,
		SubscribedEvents: req.SubscribedEvents,
		Secret:           req.Secret,
		IsActive:         true,
		CreatedBy:        principal(r).UserID,
	}
	if err := s.svc.Webhooks.CreateWebhook(r.Context(), &wh); err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, wh)
}

func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Deliverer.SendTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"status_code": status})
}
