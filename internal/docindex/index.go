// Package docindex turns uploaded lecture notes into persisted, embedded
// chunks.
package docindex

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
)

// VectorSink mirrors newly embedded chunks into an external vector index.
type VectorSink interface {
	Upsert(ctx context.Context, chunks []store.Chunk) error
}

// Upload is a document to ingest.
type Upload struct {
	Filename string
	Data     []byte
	Topic    string
	Title    string
}

// IngestResult describes a stored document.
type IngestResult struct {
	DocumentID string
	ChunkIDs   []int64
}

// Options configures an Index. Zero values take defaults.
type Options struct {
	Chunker     Chunker
	BatchSize   int
	Concurrency int
	Blobs       BlobStore
	Mirror      VectorSink
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Index ingests documents and maintains their embeddings.
type Index struct {
	docs        store.DocumentRepo
	embedder    embedding.Embedder
	chunker     Chunker
	batchSize   int
	concurrency int
	blobs       BlobStore
	mirror      VectorSink
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func New(docs store.DocumentRepo, embedder embedding.Embedder, opts Options) *Index {
	if opts.Chunker.Size <= 0 {
		opts.Chunker = DefaultChunker()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Index{
		docs:        docs,
		embedder:    embedder,
		chunker:     opts.Chunker,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		blobs:       opts.Blobs,
		mirror:      opts.Mirror,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
}

// Ingest extracts, chunks and stores a document. The chunks have no
// embedding until EmbedPending runs.
func (ix *Index) Ingest(ctx context.Context, up Upload) (*IngestResult, error) {
	ctx, span := tracing.Start(ctx, "docindex.ingest", attribute.String("filename", up.Filename))
	defer span.End()

	filename := filepath.Base(up.Filename)
	contentType, ok := ContentType(filename)
	if !ok {
		return nil, &IngestError{Filename: filename, Reason: "unsupported file type " + filepath.Ext(filename)}
	}
	pages, err := Extract(filename, up.Data)
	if err != nil {
		return nil, err
	}

	var chunks []store.Chunk
	for _, p := range pages {
		for _, sp := range ix.chunker.Split(p.Text) {
			chunks = append(chunks, store.Chunk{
				Content:    sp.Text,
				PageNumber: p.Number,
				ChunkIndex: len(chunks),
			})
		}
	}
	if len(chunks) == 0 {
		return nil, &IngestError{Filename: filename, Reason: "no extractable text"}
	}

	title := strings.TrimSpace(up.Title)
	if title == "" {
		title = filename
	}
	topic := strings.TrimSpace(up.Topic)
	if topic == "" {
		topic = "Mathematics"
	}

	docID := uuid.NewString()
	blobKey := ""
	if ix.blobs != nil {
		blobKey = path.Join("lecture-notes", docID, filename)
		if err := ix.blobs.Put(ctx, blobKey, up.Data, contentType); err != nil {
			return nil, fmt.Errorf("store blob: %w", err)
		}
	}

	ids, err := ix.docs.Insert(ctx, store.Document{
		ID:          docID,
		Title:       title,
		Topic:       topic,
		SourceFile:  filename,
		ContentType: contentType,
		BlobKey:     blobKey,
	}, chunks)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	ix.metrics.ChunksIngested(len(ids))
	ix.log.Info("document ingested",
		zap.String("document_id", docID),
		zap.String("file", filename),
		zap.String("topic", topic),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(ids)),
	)
	return &IngestResult{DocumentID: docID, ChunkIDs: ids}, nil
}

// EmbedPending embeds every chunk that has no vector yet and returns how
// many this call stored. Chunks embedded concurrently by another caller
// are skipped, so re-running never re-embeds.
func (ix *Index) EmbedPending(ctx context.Context) (int, error) {
	ctx, span := tracing.Start(ctx, "docindex.embed_pending")
	defer span.End()

	var stored atomic.Int64
	var afterID int64
	page := ix.batchSize * ix.concurrency
	for {
		pending, err := ix.docs.Pending(ctx, afterID, page)
		if err != nil {
			return int(stored.Load()), fmt.Errorf("list pending chunks: %w", err)
		}
		if len(pending) == 0 {
			break
		}
		afterID = pending[len(pending)-1].ID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.concurrency)
		for i := 0; i < len(pending); i += ix.batchSize {
			batch := pending[i:min(i+ix.batchSize, len(pending))]
			g.Go(func() error {
				n, err := ix.embedBatch(gctx, batch)
				stored.Add(int64(n))
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return int(stored.Load()), err
		}
		if len(pending) < page {
			break
		}
	}

	n := int(stored.Load())
	ix.metrics.ChunksEmbedded(n)
	if n > 0 {
		ix.log.Info("chunks embedded", zap.Int("count", n), zap.String("model", ix.embedder.ModelID()))
	}
	return n, nil
}

func (ix *Index) embedBatch(ctx context.Context, batch []store.Chunk) (int, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(batch) {
		return 0, fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vecs), len(batch))
	}

	model := ix.embedder.ModelID()
	embedded := make([]store.Chunk, len(batch))
	for i, c := range batch {
		c.Embedding, c.EmbeddingModel = vecs[i], model
		embedded[i] = c
	}
	// Mirror before marking embedded so a failed upsert leaves the
	// chunks pending for the next run.
	if ix.mirror != nil {
		if err := ix.mirror.Upsert(ctx, embedded); err != nil {
			ix.log.Warn("vector mirror upsert failed", zap.Int("chunks", len(embedded)), zap.Error(err))
			return 0, fmt.Errorf("mirror upsert: %w", err)
		}
	}

	var fresh []store.Chunk
	for i, c := range embedded {
		ok, err := ix.docs.SetEmbedding(ctx, c.ID, vecs[i], model)
		if err != nil {
			return len(fresh), err
		}
		if ok {
			fresh = append(fresh, c)
		}
	}
	return len(fresh), nil
}
