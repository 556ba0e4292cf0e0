package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	rows, total, err := s.svc.Notifier.List(r.Context(), principal(r).UserID, unreadOnly, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"notifications": rows, "total": total})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Notifier.MarkRead(r.Context(), chi.URLParam(r, "id"), principal(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	s.svc.Hub.ServeSSE(w, r, principal(r).UserID)
}
