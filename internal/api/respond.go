package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/docindex"
	"github.com/abhisek/tutorium/internal/grading"
	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/problembank"
	"github.com/abhisek/tutorium/internal/quiz"
	"github.com/abhisek/tutorium/internal/session"
	"github.com/abhisek/tutorium/internal/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// badRequest marks a malformed request detected by a handler.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequestf("invalid JSON body: %v", err)
	}
	return nil
}

// classify maps an error to a status, a message id and its template data.
// Bad-request types are checked first because some of them wrap
// not-found or duplicate errors.
func classify(err error) (int, string, map[string]any) {
	var (
		br       *badRequest
		ingest   *docindex.IngestError
		sheet    *problembank.InvalidSheetError
		invalid  *grading.InvalidSubmissionError
		unknown  *quiz.UnknownQuestionError
		genErr   *quiz.GenerationError
		timeout  *llm.ErrTimeout
		rate     *llm.ErrRateLimit
		down     *llm.ErrProviderUnavailable
		maxBytes *http.MaxBytesError
	)
	detail := map[string]any{"Detail": err.Error()}
	switch {
	case errors.As(err, &br),
		errors.As(err, &sheet),
		errors.Is(err, quiz.ErrInvalidRequest),
		errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, session.ErrMissingSession):
		return http.StatusBadRequest, "error_bad_request", detail
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "error_bad_request", detail
	case errors.As(err, &ingest):
		return http.StatusBadRequest, "error_ingest", detail
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "error_invalid_submission", detail
	case errors.As(err, &unknown):
		return http.StatusNotFound, "error_unknown_question", map[string]any{"QuestionID": unknown.QuestionID}
	case errors.Is(err, session.ErrAlreadyGraded), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "error_already_graded", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "error_not_found", nil
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "error_backend_timeout", nil
	case errors.As(err, &genErr):
		return http.StatusBadGateway, "error_generation_failed", nil
	case errors.As(err, &rate), errors.As(err, &down):
		return http.StatusBadGateway, "error_backend_unavailable", nil
	}
	return http.StatusInternalServerError, "error_internal", nil
}

// writeError renders err as a localized error response. what names the
// missing resource for 404s.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	status, msgID, data := classify(err)
	if msgID == "error_not_found" {
		data = map[string]any{"What": what}
	}

	body := errorBody{Code: msgID, Detail: err.Error()}
	if s.tr != nil {
		body.Error = s.tr.Td(r.Context(), msgID, data)
	} else {
		body.Error = msgID
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			body.Detail = ""
		}
	}
	writeJSON(w, status, body)
}
