package quiz

import "fmt"

// Validator checks a draft before it becomes a quiz.
type Validator interface {
	// Name is a short identifier used in logs and feedback.
	Name() string
	Validate(d *Draft, req Request) *ValidationError
}

// ValidationError describes why a draft was rejected.
type ValidationError struct {
	Validator string
	Message   string
	Retryable bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validator %q: %s", e.Validator, e.Message)
}

// DefaultValidators is the standard chain, run in order.
func DefaultValidators() []Validator {
	return []Validator{
		&StructuralValidator{},
		&CountValidator{},
		&AnswerPresentValidator{},
		&ChoiceAnswerValidator{},
		&DuplicateValidator{},
	}
}

// StructuralValidator checks types and option lists.
type StructuralValidator struct{}

func (v *StructuralValidator) Name() string { return "structural" }

func (v *StructuralValidator) Validate(d *Draft, _ Request) *ValidationError {
	for i, q := range d.Questions {
		n := i + 1
		if q.Question == "" {
			return v.fail("question %d has empty text", n)
		}
		switch Kind(q.Type) {
		case KindMultipleChoice:
			if len(q.Options) < 2 || len(q.Options) > 6 {
				return v.fail("question %d must have between 2 and 6 options, got %d", n, len(q.Options))
			}
			seen := make(map[string]bool, len(q.Options))
			for _, o := range q.Options {
				if o == "" {
					return v.fail("question %d has an empty option", n)
				}
				key := NormalizeText(o)
				if seen[key] {
					return v.fail("question %d repeats option %q", n, o)
				}
				seen[key] = true
			}
		case KindShortAnswer:
		default:
			return v.fail("question %d has type %q, want multiple_choice or short_answer", n, q.Type)
		}
	}
	return nil
}

func (v *StructuralValidator) fail(format string, args ...any) *ValidationError {
	return &ValidationError{Validator: v.Name(), Message: fmt.Sprintf(format, args...), Retryable: true}
}

// CountValidator requires exactly the requested number of questions.
type CountValidator struct{}

func (v *CountValidator) Name() string { return "count" }

func (v *CountValidator) Validate(d *Draft, req Request) *ValidationError {
	if len(d.Questions) != req.NumQuestions {
		return &ValidationError{
			Validator: v.Name(),
			Message:   fmt.Sprintf("expected exactly %d questions, got %d", req.NumQuestions, len(d.Questions)),
			Retryable: true,
		}
	}
	return nil
}

// AnswerPresentValidator requires a correct_answer on every question.
type AnswerPresentValidator struct{}

func (v *AnswerPresentValidator) Name() string { return "answer-present" }

func (v *AnswerPresentValidator) Validate(d *Draft, _ Request) *ValidationError {
	for i, q := range d.Questions {
		if q.CorrectAnswer == "" {
			return &ValidationError{
				Validator: v.Name(),
				Message:   fmt.Sprintf("question %d has no correct_answer", i+1),
				Retryable: true,
			}
		}
	}
	return nil
}

// ChoiceAnswerValidator requires each multiple-choice answer to name one
// of the question's options.
type ChoiceAnswerValidator struct{}

func (v *ChoiceAnswerValidator) Name() string { return "choice-answer" }

func (v *ChoiceAnswerValidator) Validate(d *Draft, _ Request) *ValidationError {
	for i, q := range d.Questions {
		if Kind(q.Type) != KindMultipleChoice {
			continue
		}
		if _, ok := resolveLetter(q.Options, q.CorrectAnswer); !ok {
			return &ValidationError{
				Validator: v.Name(),
				Message:   fmt.Sprintf("question %d: correct_answer %q is not one of its options", i+1, q.CorrectAnswer),
				Retryable: true,
			}
		}
	}
	return nil
}

// DuplicateValidator rejects quizzes that ask the same thing twice.
type DuplicateValidator struct{}

func (v *DuplicateValidator) Name() string { return "duplicate-text" }

func (v *DuplicateValidator) Validate(d *Draft, _ Request) *ValidationError {
	seen := make(map[string]int, len(d.Questions))
	for i, q := range d.Questions {
		key := NormalizeText(q.Question)
		if j, ok := seen[key]; ok {
			return &ValidationError{
				Validator: v.Name(),
				Message:   fmt.Sprintf("questions %d and %d have the same text", j+1, i+1),
				Retryable: true,
			}
		}
		seen[key] = i
	}
	return nil
}
