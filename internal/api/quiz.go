package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abhisek/tutorium/internal/grading"
	"github.com/abhisek/tutorium/internal/quiz"
	"github.com/abhisek/tutorium/internal/session"
)

type generateRequest struct {
	SessionID    string `json:"session_id"`
	Topic        string `json:"topic"`
	Difficulty   string `json:"difficulty"`
	NumQuestions int    `json:"num_questions"`
	ContextBased bool   `json:"context_based"`
}

type generateResponse struct {
	quiz.PublicQuiz
	ContextBased  bool `json:"context_based"`
	ContextChunks int  `json:"context_chunks"`
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}

	res, err := s.sessions.Generate(r.Context(), quiz.Request{
		SessionID:    req.SessionID,
		Topic:        req.Topic,
		Difficulty:   req.Difficulty,
		NumQuestions: req.NumQuestions,
		ContextBased: req.ContextBased,
	})
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		PublicQuiz:    res.Quiz.Public(),
		ContextBased:  res.Quiz.ContextBased,
		ContextChunks: res.ContextChunks,
	})
}

type quizResponse struct {
	quiz.PublicQuiz
	Graded bool            `json:"graded"`
	Result *grading.Result `json:"result,omitempty"`
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	q, res, err := s.sessions.Quiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		s.writeError(w, r, err, "Quiz")
		return
	}
	writeJSON(w, http.StatusOK, quizResponse{PublicQuiz: q.Public(), Graded: res != nil, Result: res})
}

type submitRequest struct {
	Answers          map[string]string `json:"answers"`
	TimeTakenSeconds float64           `json:"time_taken_seconds"`
}

func (s *Server) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	if req.Answers == nil {
		req.Answers = map[string]string{}
	}

	res, err := s.sessions.Submit(r.Context(), chi.URLParam(r, "quizID"), req.Answers, req.TimeTakenSeconds)
	if err != nil {
		s.writeError(w, r, err, "Quiz")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type hintRequest struct {
	QuestionID string `json:"question_id"`
}

type hintResponse struct {
	QuestionID string `json:"question_id"`
	Hint       string `json:"hint"`
	Source     string `json:"source"`
	Cached     bool   `json:"cached"`
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	var req hintRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "")
		return
	}
	if req.QuestionID == "" {
		s.writeError(w, r, badRequestf("question_id is required"), "")
		return
	}

	res, err := s.sessions.Hint(r.Context(), chi.URLParam(r, "quizID"), req.QuestionID)
	if err != nil {
		s.writeError(w, r, err, "Quiz")
		return
	}
	writeJSON(w, http.StatusOK, hintResponse{
		QuestionID: req.QuestionID,
		Hint:       res.Hint,
		Source:     res.Source,
		Cached:     res.Cached,
	})
}

type historyResponse struct {
	SessionID string                 `json:"session_id"`
	Quizzes   []session.HistoryEntry `json:"quizzes"`
	Summary   session.Summary        `json:"summary"`
}

func (s *Server) handleQuizHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	entries, sum, err := s.sessions.History(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, "Session")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Quizzes: entries, Summary: sum})
}
