package quiz

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest marks a generation request that cannot be served as
// asked, e.g. an unknown difficulty.
var ErrInvalidRequest = errors.New("invalid quiz request")

// GenerationError is returned when no draft survived validation within
// the attempt budget, or the backend could not produce one at all.
type GenerationError struct {
	Attempts int
	// Failures holds the validation message of each rejected draft.
	Failures []string
	Err      error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "quiz generation failed after %d attempt(s)", e.Attempts)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, ": %s", e.Failures[len(e.Failures)-1])
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// UnknownQuestionError is returned when a question id is not part of a quiz.
type UnknownQuestionError struct {
	QuizID     string
	QuestionID string
}

func (e *UnknownQuestionError) Error() string {
	return fmt.Sprintf("question %q is not part of quiz %s", e.QuestionID, e.QuizID)
}
