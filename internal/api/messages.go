package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sgunadhya/oxidesk/internal/pkg/httputil"
	"github.com/sgunadhya/oxidesk/internal/service/message"
)

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	msgs, total, err := s.svc.Messages.List(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"messages": msgs, "total": total})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	msg, err := s.svc.Messages.Send(r.Context(), principal(r), message.SendInput{
		ConversationID: chi.URLParam(r, "id"),
		Content:        req.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, msg)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.svc.Messages.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, msg)
}

func (s *Server) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.svc.Messages.Retry(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, msg)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	atts, err := s.svc.Messages.Attachments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"attachments": atts})
}

func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	att, err := s.svc.Messages.GetAttachment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := s.svc.Blobs.Get(r.Context(), att.FileKey)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	if att.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(att.FileSize, 10))
	}
	io.Copy(w, body)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
