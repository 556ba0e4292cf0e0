package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

type createConversationRequest struct {
	InboxID   string           `json:"inbox_id"`
	ContactID string           `json:"contact_id"`
	Subject   *string          `json:"subject,omitempty"`
	Priority  *domain.Priority `json:"priority,omitempty"`
	Tags      []string         `json:"tags,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	conv, err := s.svc.Conversations.Create(r.Context(), principal(r), conversation.CreateInput{
		InboxID:   req.InboxID,
		ContactID: req.ContactID,
		Subject:   req.Subject,
		Priority:  req.Priority,
		Tags:      req.Tags,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

type updateStatusRequest struct {
	Status domain.ConversationStatus `json:"status"`
	// SnoozeDuration is required when snoozing, e.g. "2h" or "1d".
	SnoozeDuration string `json:"snooze_duration,omitempty"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	var snoozeFor time.Duration
	if req.SnoozeDuration != "" {
		d, err := domain.ParseDuration(req.SnoozeDuration)
		if err != nil {
			writeError(w, err)
			return
		}
		snoozeFor = d
	}
	conv, err := s.svc.Conversations.UpdateStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status, snoozeFor)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

type assignUserRequest struct {
	UserID *string `json:"user_id"` // null unassigns
}

func (s *Server) handleAssignUser(w http.ResponseWriter, r *http.Request) {
	var req assignUserRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	conv, err := s.svc.Conversations.AssignUser(r.Context(), principal(r), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

type assignTeamRequest struct {
	TeamID *string `json:"team_id"` // null unassigns
}

func (s *Server) handleAssignTeam(w http.ResponseWriter, r *http.Request) {
	var req assignTeamRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	conv, err := s.svc.Conversations.AssignTeam(r.Context(), principal(r), chi.URLParam(r, "id"), req.TeamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func (s *Server) handleAddTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	conv, err := s.svc.Conversations.AddTags(r.Context(), principal(r), chi.URLParam(r, "id"), req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

func (s *Server) handleReplaceTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	conv, err := s.svc.Conversations.ReplaceTags(r.Context(), principal(r), chi.URLParam(r, "id"), req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Conversations.RemoveTag(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

type priorityRequest struct {
	Priority *domain.Priority `json:"priority"` // null clears
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	conv, err := s.svc.Conversations.SetPriority(r.Context(), principal(r), chi.URLParam(r, "id"), req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, conv)
}

func (s *Server) handleAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.svc.Conversations.AssignmentHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"history": rows})
}
