package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// Auth routes (no session required)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Post("/auth/reset-password", s.handleResetPassword)

	// API routes (session required)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireSession)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/{id}", s.handleGetConversation)
			r.Post("/{id}/status", s.handleUpdateStatus)
			r.Post("/{id}/assignee", s.handleAssignUser)
			r.Post("/{id}/team", s.handleAssignTeam)
			r.Post("/{id}/tags", s.handleAddTags)
			r.Put("/{id}/tags", s.handleReplaceTags)
			r.Delete("/{id}/tags/{tag}", s.handleRemoveTag)
			r.Post("/{id}/priority", s.handleSetPriority)
			r.Get("/{id}/history", s.handleAssignmentHistory)
			r.Get("/{id}/messages", s.handleListMessages)
			r.Post("/{id}/messages", s.handleSendMessage)
			r.Post("/{id}/sla", s.handleApplySLA)
			r.Get("/{id}/sla", s.handleActiveSLA)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/{id}", s.handleGetMessage)
			r.Post("/{id}/retry", s.handleRetryMessage)
			r.Get("/{id}/attachments", s.handleListAttachments)
		})
		r.Get("/attachments/{id}/download", s.handleDownloadAttachment)

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", s.handleCreateAgent)
			r.Post("/availability", s.handleSetAvailability)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Get("/{id}/logs", s.handleRuleLogs)
		})

		r.Route("/sla-policies", func(r chi.Router) {
			r.Post("/", s.handleCreatePolicy)
			r.Get("/{id}", s.handleGetPolicy)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", s.handleCreateWebhook)
			r.Post("/{id}/test", s.handleTestWebhook)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Post("/{id}/read", s.handleMarkNotificationRead)
			r.Get("/stream", s.handleNotificationStream)
		})
	})

	return r
}
