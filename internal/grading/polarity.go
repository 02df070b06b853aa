package grading

import (
	"strings"

	"github.com/abhisek/tutorium/internal/quiz"
)

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "none": true, "neither": true,
	"nor": true, "nothing": true, "nobody": true, "nowhere": true,
	"without": true, "cannot": true, "false": true, "isnt": true,
	"arent": true, "wasnt": true, "werent": true, "doesnt": true,
	"dont": true, "didnt": true, "cant": true, "wont": true,
	"shouldnt": true, "couldnt": true, "hasnt": true, "havent": true,
}

// negated reports whether s carries an odd number of negations.
// Contractions arrive from NormalizeText split as "isn t".
func negated(s string) bool {
	words := strings.Fields(quiz.NormalizeText(s))
	n := 0
	for i, w := range words {
		switch {
		case negators[w]:
			n++
		case w == "t" && i > 0 && strings.HasSuffix(words[i-1], "n"):
			n++
		}
	}
	return n%2 == 1
}

// polarityMismatch is true when exactly one of the two answers is negated.
func polarityMismatch(answer, reference string) bool {
	return negated(answer) != negated(reference)
}
