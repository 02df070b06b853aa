package quiz

import (
	"regexp"
	"strings"
)

// Draft is a parsed backend response before it is trusted.
type Draft struct {
	Title     string          `json:"title"`
	Questions []DraftQuestion `json:"questions"`
}

// DraftQuestion is one unvalidated question.
type DraftQuestion struct {
	Question      string   `json:"question"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

var optionLabel = regexp.MustCompile(`^\(?([A-Za-z])[.)]\s+`)

// tidy trims fields and strips "A. " style labels from options when every
// option carries its own letter in order.
func (d *Draft) tidy() {
	d.Title = strings.TrimSpace(d.Title)
	for i := range d.Questions {
		q := &d.Questions[i]
		q.Question = strings.TrimSpace(q.Question)
		q.Type = strings.ToLower(strings.TrimSpace(q.Type))
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		q.Explanation = strings.TrimSpace(q.Explanation)
		for j := range q.Options {
			q.Options[j] = strings.TrimSpace(q.Options[j])
		}
		if labelledInOrder(q.Options) {
			for j, o := range q.Options {
				q.Options[j] = strings.TrimSpace(optionLabel.ReplaceAllString(o, ""))
			}
		}
	}
}

func labelledInOrder(options []string) bool {
	if len(options) == 0 {
		return false
	}
	for i, o := range options {
		m := optionLabel.FindStringSubmatch(o)
		if m == nil || strings.ToUpper(m[1]) != Letter(i) {
			return false
		}
	}
	return true
}

// resolveLetter maps a stated multiple-choice answer to an option letter.
// It accepts a bare letter, a labelled option ("B. 42") or the option
// text itself.
func resolveLetter(options []string, answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	c := Choice{Options: options}
	if _, ok := c.Index(answer); ok {
		return strings.ToUpper(answer), true
	}
	if m := optionLabel.FindStringSubmatch(answer + " "); m != nil {
		if _, ok := c.Index(m[1]); ok {
			return strings.ToUpper(m[1]), true
		}
	}
	want := NormalizeText(answer)
	for i, o := range options {
		if NormalizeText(o) == want {
			return Letter(i), true
		}
	}
	return "", false
}
