// Package retrieval finds the lecture-note chunks most similar to a query.
package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
)

// DefaultMinSimilarity is the cosine floor below which chunks are not
// considered relevant.
const DefaultMinSimilarity = 0.5

// Hit is a retrieved chunk and its cosine similarity to the query.
type Hit struct {
	Chunk      store.Chunk
	Similarity float64
}

// VectorIndex scores embedded chunks against a query vector. topic
// restricts results when non-empty. limit is a hint; implementations may
// return more.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, topic string, limit int) ([]Hit, error)
}

// Retriever embeds queries and ranks chunks.
type Retriever struct {
	embedder      embedding.Embedder
	index         VectorIndex
	minSimilarity float64
	metrics       *metrics.Metrics
	log           *zap.Logger
}

// Options configures a Retriever.
type Options struct {
	MinSimilarity float64
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

func New(embedder embedding.Embedder, index VectorIndex, opts Options) *Retriever {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Retriever{
		embedder:      embedder,
		index:         index,
		minSimilarity: opts.MinSimilarity,
		metrics:       opts.Metrics,
		log:           opts.Logger,
	}
}

// Retrieve returns at most k chunks with similarity at or above the floor,
// best first; equal scores are ordered by chunk position, then id. No
// match is an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, topic string, k int) ([]Hit, error) {
	ctx, span := tracing.Start(ctx, "retrieval.retrieve",
		attribute.String("topic", topic), attribute.Int("k", k))
	defer span.End()

	if k <= 0 {
		return nil, fmt.Errorf("retrieve: k must be positive, got %d", k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for 1 query", len(vecs))
	}
	hits, err := r.index.Search(ctx, vecs[0], topic, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.Similarity >= r.minSimilarity {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Chunk.ChunkIndex != b.Chunk.ChunkIndex {
			return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
		}
		return a.Chunk.ID < b.Chunk.ID
	})
	if len(kept) > k {
		kept = kept[:k]
	}

	r.metrics.Retrieved(len(kept))
	r.log.Debug("retrieved context",
		zap.String("topic", topic),
		zap.Int("candidates", len(hits)),
		zap.Int("returned", len(kept)),
	)
	return kept, nil
}

// FormatContext renders hits as source-labelled passages for a prompt.
func FormatContext(hits []Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[Source: %s]\n%s", filepath.Base(h.Chunk.SourceFile), h.Chunk.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// StoreIndex scans the embedded chunks in the store.
type StoreIndex struct {
	docs store.DocumentRepo
}

func NewStoreIndex(docs store.DocumentRepo) *StoreIndex {
	return &StoreIndex{docs: docs}
}

// Search scores every embedded chunk; it ignores limit.
func (s *StoreIndex) Search(ctx context.Context, query []float32, topic string, _ int) ([]Hit, error) {
	chunks, err := s.docs.Embedded(ctx, topic)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, Hit{Chunk: c, Similarity: embedding.Cosine(query, c.Embedding)})
	}
	return hits, nil
}
