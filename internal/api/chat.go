package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type createSessionRequest struct {
	Subject string `json:"subject"`
}

type sessionView struct {
	SessionID string        `json:"session_id"`
	Subject   string        `json:"subject"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []messageView `json:"messages,omitempty"`
}

type messageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	// An empty body creates a session without a subject.
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err, "")
			return
		}
	}
	sess, err := s.sessions.Create(r.Context(), req.Subject)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, sessionView{SessionID: sess.ID, Subject: sess.Subject, CreatedAt: sess.CreatedAt})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, msgs, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err, "Session")
		return
	}
	view := sessionView{
		SessionID: sess.ID,
		Subject:   sess.Subject,
		CreatedAt: sess.CreatedAt,
		Messages:  make([]messageView, 0, len(msgs)),
	}
	for _, m := range msgs {
		view.Messages = append(view.Messages, messageView{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, view)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	reply, err := s.sessions.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeError(w, r, err, "Session")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.topics.Topics(r.Context())
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}
