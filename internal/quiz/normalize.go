package quiz

import (
	"strings"
	"unicode"
)

// NormalizeText case-folds s, strips punctuation and symbols, and
// collapses whitespace. Digits, letters, '.', '-' and '/' between
// digits survive so "-1.5" and "3/4" keep their meaning.
func NormalizeText(s string) string {
	rs := []rune(strings.ToLower(s))
	var b strings.Builder
	space := false
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
		case (r == '.' || r == '/') && between(rs, i, unicode.IsDigit):
		case r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1]):
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			space = b.Len() > 0
			continue
		default:
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func between(rs []rune, i int, pred func(rune) bool) bool {
	return i > 0 && i+1 < len(rs) && pred(rs[i-1]) && pred(rs[i+1])
}
