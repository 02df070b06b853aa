package hint

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abhisek/tutorium/internal/grading"
	"github.com/abhisek/tutorium/internal/quiz"
)

// Violation explains why a hint cannot be shown.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string { return "hint rejected: " + v.Reason }

// Check reports whether hint gives q away. A hint is rejected when it is
// empty, names the correct answer, names the correct option, or refers to
// enough wrong options to leave only one standing.
func Check(q *quiz.Question, hint string) *Violation {
	if strings.TrimSpace(hint) == "" {
		return &Violation{Reason: "hint is empty"}
	}
	switch q.Kind {
	case quiz.KindShortAnswer:
		if mentions(hint, q.Short.Answer) || containsLiteral(hint, q.Short.Answer) {
			return &Violation{Reason: "hint contains the answer"}
		}
	case quiz.KindMultipleChoice:
		correct, ok := q.Choice.Index(q.Choice.Correct)
		if !ok {
			return nil
		}
		if mentions(hint, q.Choice.Options[correct]) || containsLiteral(hint, q.Choice.Options[correct]) {
			return &Violation{Reason: "hint contains the correct option"}
		}
		if namesLetter(hint, q.Choice.Correct) {
			return &Violation{Reason: "hint names the correct option letter"}
		}
		wrong := 0
		for i, o := range q.Choice.Options {
			if i == correct {
				continue
			}
			if mentions(hint, o) || namesLetter(hint, quiz.Letter(i)) {
				wrong++
			}
		}
		if n := len(q.Choice.Options); n > 1 && wrong >= n-1 {
			return &Violation{Reason: fmt.Sprintf("hint rules out %d of %d options", wrong, n)}
		}
	}
	return nil
}

// mentions reports whether text contains phrase as whole words after
// normalization, or, for a numeric phrase, any number equal to it.
func mentions(text, phrase string) bool {
	p := quiz.NormalizeText(phrase)
	if p == "" {
		return false
	}
	t := quiz.NormalizeText(text)
	if strings.Contains(" "+t+" ", " "+p+" ") {
		return true
	}
	want, ok := grading.ParseNumber(phrase)
	if !ok {
		return false
	}
	for _, tok := range strings.Fields(t) {
		if got, ok := grading.ParseNumber(tok); ok && got == want {
			return true
		}
	}
	return false
}

// containsLiteral reports whether text contains answer anywhere, ignoring
// case, so "primes" leaks "prime" and "17" leaks "7". Single letters are
// left to the whole-word check in mentions.
func containsLiteral(text, answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	if a == "" {
		return false
	}
	if utf8.RuneCountInString(a) == 1 {
		if _, numeric := grading.ParseNumber(a); !numeric {
			return false
		}
	}
	return strings.Contains(strings.ToLower(text), a)
}

// answerText is the text a hint must not reveal: the short answer, or the
// correct option's text.
func answerText(q *quiz.Question) string {
	if q.Kind == quiz.KindMultipleChoice && q.Choice != nil {
		return q.Choice.CorrectText()
	}
	if q.Short != nil {
		return q.Short.Answer
	}
	return ""
}

// redact blanks every case-insensitive occurrence of answer in text.
func redact(text, answer string) string {
	a := strings.TrimSpace(answer)
	if a == "" {
		return text
	}
	return regexp.MustCompile(`(?i)`+regexp.QuoteMeta(a)).ReplaceAllString(text, "___")
}

// namesLetter catches "option B", "answer is B", "(B)" and "B." style
// references to an option label.
func namesLetter(text, letter string) bool {
	l := regexp.QuoteMeta(strings.ToUpper(letter))
	re := regexp.MustCompile(`(?i:\b(?:option|answer|choice)\s+(?:is\s+)?)` + l + `\b|\(` + l + `\)|\b` + l + `[.)]\s`)
	return re.MatchString(text + " ")
}
