package docindex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/store"
)

func newTestIndex(t *testing.T, opts Options) (*Index, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s.Documents(), embedding.NewHashEmbedder(64), opts), s
}

type recordingSink struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (r *recordingSink) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingSink) Upsert(_ context.Context, chunks []store.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, c := range chunks {
		r.ids = append(r.ids, c.ID)
	}
	return nil
}

func TestIngest_StoresChunksInOrder(t *testing.T) {
	blobs := NewLocalBlobStore(t.TempDir())
	ix, s := newTestIndex(t, Options{Blobs: blobs})
	ctx := context.Background()

	text := repeatTo("The derivative measures the rate of change. ", 2400)
	res, err := ix.Ingest(ctx, Upload{Filename: "calculus.md", Data: []byte(text), Topic: "Calculus", Title: "Derivatives"})
	require.NoError(t, err)
	require.Len(t, res.ChunkIDs, 3)

	pending, err := s.Documents().Pending(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, c := range pending {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "Calculus", c.Topic)
		assert.Equal(t, "calculus.md", c.SourceFile)
	}

	docs, err := s.Documents().ListDocuments(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	data, err := blobs.Get(ctx, docs[0].BlobKey)
	require.NoError(t, err)
	assert.Equal(t, text, string(data))
}

func TestIngest_Rejections(t *testing.T) {
	ix, _ := newTestIndex(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		up   Upload
	}{
		{"unsupported type", Upload{Filename: "notes.docx", Data: []byte("hello")}},
		{"empty text", Upload{Filename: "empty.txt", Data: []byte("  \n ")}},
		{"bad json", Upload{Filename: "notes.json", Data: []byte("{oops")}},
		{"bad pdf", Upload{Filename: "notes.pdf", Data: []byte("not a pdf")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ix.Ingest(ctx, tt.up)
			var ie *IngestError
			if !errors.As(err, &ie) {
				t.Fatalf("expected IngestError, got %T (%v)", err, err)
			}
		})
	}
}

func TestEmbedPending_Idempotent(t *testing.T) {
	sink := &recordingSink{}
	ix, s := newTestIndex(t, Options{BatchSize: 2, Concurrency: 3, Mirror: sink})
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := ix.Ingest(ctx, Upload{Filename: name, Data: []byte(repeatTo("Vectors span spaces. ", 1500)), Topic: "Linear Algebra"})
		require.NoError(t, err)
	}

	first, err := ix.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, first)

	second, err := ix.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	n, err := s.Documents().CountEmbedded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, sink.ids, 6)
}

func TestEmbedPending_MirrorFailureKeepsChunksPending(t *testing.T) {
	sink := &recordingSink{}
	sink.fail(errors.New("milvus unavailable"))
	ix, s := newTestIndex(t, Options{BatchSize: 2, Concurrency: 1, Mirror: sink})
	ctx := context.Background()
	res, err := ix.Ingest(ctx, Upload{Filename: "a.txt", Data: []byte(repeatTo("Eigenvalues scale vectors. ", 1500)), Topic: "Linear Algebra"})
	require.NoError(t, err)

	n, err := ix.EmbedPending(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	embedded, err := s.Documents().CountEmbedded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, embedded)

	sink.fail(nil)
	n, err = ix.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(res.ChunkIDs), n)
	assert.ElementsMatch(t, res.ChunkIDs, sink.ids)
}

func TestEmbedPending_ConcurrentRunsEmbedOnce(t *testing.T) {
	ix, _ := newTestIndex(t, Options{BatchSize: 1, Concurrency: 2})
	ctx := context.Background()
	res, err := ix.Ingest(ctx, Upload{Filename: "a.txt", Data: []byte(repeatTo("Limits and continuity. ", 3000)), Topic: "Analysis"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	counts := make([]int, 3)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := ix.EmbedPending(ctx)
			if err != nil {
				t.Errorf("embed: %v", err)
			}
			counts[i] = n
		}(i)
	}
	wg.Wait()
	assert.Equal(t, len(res.ChunkIDs), counts[0]+counts[1]+counts[2])
}

func TestExtract_HTMLKeepsBlocks(t *testing.T) {
	html := `<html><head><script>var x = 1;</script></head><body>
<nav>menu</nav><h1>Groups</h1><p>A group is a set
with an operation.</p><ul><li>closure</li><li>identity</li></ul></body></html>`
	pages, err := Extract("groups.html", []byte(html))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Groups\n\nA group is a set with an operation.\n\nclosure\n\nidentity", pages[0].Text)
	assert.False(t, strings.Contains(pages[0].Text, "menu"))
}

func TestLocalBlobStore_RejectsEscape(t *testing.T) {
	b := NewLocalBlobStore(t.TempDir())
	err := b.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	assert.Error(t, err)
}
