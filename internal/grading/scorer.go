package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/quiz"
)

// Scorer measures how close a short answer is to the reference, in [0,1].
type Scorer interface {
	Similarity(ctx context.Context, answer, reference string) (float64, error)
}

// LexicalScorer takes the larger of word Jaccard and character-trigram
// Dice over normalized text.
type LexicalScorer struct{}

func (LexicalScorer) Similarity(_ context.Context, answer, reference string) (float64, error) {
	a, b := quiz.NormalizeText(answer), quiz.NormalizeText(reference)
	if a == "" || b == "" {
		return 0, nil
	}
	if a == b {
		return 1, nil
	}
	return max(jaccard(strings.Fields(a), strings.Fields(b)), dice(trigrams(a), trigrams(b))), nil
}

func jaccard(a, b []string) float64 {
	sa, sb := toSet(a), toSet(b)
	inter := 0
	for k := range sa {
		if sb[k] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func trigrams(s string) []string {
	rs := []rune(s)
	if len(rs) < 3 {
		return []string{s}
	}
	out := make([]string, 0, len(rs)-2)
	for i := 0; i+3 <= len(rs); i++ {
		out = append(out, string(rs[i:i+3]))
	}
	return out
}

func dice(a, b []string) float64 {
	sa, sb := toSet(a), toSet(b)
	if len(sa)+len(sb) == 0 {
		return 0
	}
	inter := 0
	for k := range sa {
		if sb[k] {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(sa)+len(sb))
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// EmbeddingScorer compares answers by cosine similarity of their
// embeddings, clamped to [0,1].
type EmbeddingScorer struct {
	embedder embedding.Embedder
}

func NewEmbeddingScorer(e embedding.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: e}
}

func (s *EmbeddingScorer) Similarity(ctx context.Context, answer, reference string) (float64, error) {
	vecs, err := s.embedder.Embed(ctx, []string{answer, reference})
	if err != nil {
		return 0, err
	}
	if len(vecs) != 2 {
		return 0, fmt.Errorf("embed answers: got %d vectors for 2 texts", len(vecs))
	}
	return max(0, embedding.Cosine(vecs[0], vecs[1])), nil
}
