// Package api is the HTTP edge. Handlers decode, delegate, and encode; the
// services own every invariant, so this layer stays thin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sgunadhya/oxidesk/internal/blob"
	"github.com/sgunadhya/oxidesk/internal/notify"
	"github.com/sgunadhya/oxidesk/internal/service/agentsvc"
	"github.com/sgunadhya/oxidesk/internal/service/automation"
	"github.com/sgunadhya/oxidesk/internal/service/availability"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
	"github.com/sgunadhya/oxidesk/internal/service/message"
	"github.com/sgunadhya/oxidesk/internal/service/sla"
	"github.com/sgunadhya/oxidesk/internal/webhook"
)

// Services bundles everything the HTTP edge exposes.
type Services struct {
	Conversations *conversation.Service
	Messages      *message.Service
	Agents        *agentsvc.Service
	Availability  *availability.Service
	Automation    *automation.Engine
	SLA           *sla.Service
	Webhooks      *webhook.Dispatcher
	Deliverer     *webhook.Deliverer
	Notifier      *notify.Notifier
	Hub           *notify.Hub
	Blobs         blob.Store
}

// Server is the API server.
type Server struct {
	svc     Services
	origins []string
	handler http.Handler
	router  *chi.Mux
	server  *http.Server
}

// NewServer builds the router over the given services. corsOrigins lists
// the browser origins allowed to send credentials.
func NewServer(svc Services, corsOrigins []string) *Server {
	s := &Server{svc: svc, origins: corsOrigins}
	s.router = s.routes()
	s.handler = s.router
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE streams stay open; write timeout would sever them.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
