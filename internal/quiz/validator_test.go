package quiz

import "testing"

func TestValidators(t *testing.T) {
	mc := func(text string, options []string, answer string) DraftQuestion {
		return DraftQuestion{Question: text, Type: string(KindMultipleChoice), Options: options, CorrectAnswer: answer}
	}
	opts := []string{"1", "2", "3", "4"}

	tests := []struct {
		name      string
		draft     Draft
		n         int
		validator string
	}{
		{"valid", Draft{Questions: []DraftQuestion{mc("a?", opts, "A"), {Question: "b?", Type: "short_answer", CorrectAnswer: "7"}}}, 2, ""},
		{"answer as option text", Draft{Questions: []DraftQuestion{mc("a?", opts, "3")}}, 1, ""},
		{"bad type", Draft{Questions: []DraftQuestion{{Question: "a?", Type: "essay", CorrectAnswer: "x"}}}, 1, "structural"},
		{"too few options", Draft{Questions: []DraftQuestion{mc("a?", []string{"1"}, "A")}}, 1, "structural"},
		{"repeated option", Draft{Questions: []DraftQuestion{mc("a?", []string{"1", "1", "2", "3"}, "A")}}, 1, "structural"},
		{"short count", Draft{Questions: []DraftQuestion{mc("a?", opts, "A")}}, 2, "count"},
		{"missing answer", Draft{Questions: []DraftQuestion{{Question: "a?", Type: "short_answer"}}}, 1, "answer-present"},
		{"answer not an option", Draft{Questions: []DraftQuestion{mc("a?", opts, "E")}}, 1, "choice-answer"},
		{"duplicate text", Draft{Questions: []DraftQuestion{mc("What is 2+2?", opts, "A"), mc("what is 2 + 2", opts, "B")}}, 2, "duplicate-text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			for _, v := range DefaultValidators() {
				if verr := v.Validate(&tt.draft, Request{NumQuestions: tt.n}); verr != nil {
					got = verr.Validator
					break
				}
			}
			if got != tt.validator {
				t.Errorf("failed validator = %q, want %q", got, tt.validator)
			}
		})
	}
}

func TestResolveLetter(t *testing.T) {
	opts := []string{"zero", "one", "two"}
	tests := []struct {
		answer string
		want   string
		ok     bool
	}{
		{"b", "B", true},
		{"C. two", "C", true},
		{"One", "B", true},
		{"D", "", false},
		{"three", "", false},
	}
	for _, tt := range tests {
		got, ok := resolveLetter(opts, tt.answer)
		if got != tt.want || ok != tt.ok {
			t.Errorf("resolveLetter(%q) = %q, %v; want %q, %v", tt.answer, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDraftTidy_StripsOnlyOrderedLabels(t *testing.T) {
	d := Draft{Questions: []DraftQuestion{
		{Options: []string{"A. x", "B) y", "(C) z"}},
		{Options: []string{"A. x", "C. y"}},
	}}
	d.tidy()
	if got := d.Questions[0].Options; got[0] != "x" || got[1] != "y" || got[2] != "z" {
		t.Errorf("labels not stripped: %q", got)
	}
	if got := d.Questions[1].Options; got[1] != "C. y" {
		t.Errorf("out-of-order labels were stripped: %q", got)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := map[string]string{
		"  Hello,   World! ": "hello world",
		"-1.5":               "-1.5",
		"3/4 of x.":          "3/4 of x",
		"x^2 + 1":            "x 2 1",
	}
	for in, want := range tests {
		if got := NormalizeText(in); got != want {
			t.Errorf("NormalizeText(%q) = %q, want %q", in, got, want)
		}
	}
}
