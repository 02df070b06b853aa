package retrieval

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/store"
)

const maxContentBytes = 8192

// MilvusIndex keeps a copy of embedded chunks in a Milvus collection and
// searches it by inner product over unit vectors, which equals cosine
// similarity. It implements both VectorIndex and docindex.VectorSink.
type MilvusIndex struct {
	client     client.Client
	collection string
	dims       int
	log        *zap.Logger
}

// MilvusConfig configures NewMilvusIndex.
type MilvusConfig struct {
	Address    string
	APIKey     string
	Collection string
	Dimensions int
}

// NewMilvusIndex connects and makes sure the collection exists and is loaded.
func NewMilvusIndex(ctx context.Context, cfg MilvusConfig, log *zap.Logger) (*MilvusIndex, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address, APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create milvus client: %w", err)
	}
	m := &MilvusIndex{client: c, collection: cfg.Collection, dims: cfg.Dimensions, log: log}
	if err := m.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	log.Info("milvus index ready", zap.String("address", cfg.Address), zap.String("collection", cfg.Collection))
	return m, nil
}

func (m *MilvusIndex) Close() error {
	return m.client.Close()
}

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !has {
		if err := m.client.CreateCollection(ctx, m.schema(), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
		if err != nil {
			return fmt.Errorf("build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, "embedding", idx, false); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (m *MilvusIndex) schema() *entity.Schema {
	varchar := func(name string, max int) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": strconv.Itoa(max)},
		}
	}
	return &entity.Schema{
		CollectionName: m.collection,
		Description:    "lecture-note chunk embeddings",
		Fields: []*entity.Field{
			{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: false},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(m.dims)},
			},
			varchar("document_id", 64),
			varchar("topic", 256),
			varchar("title", 512),
			varchar("source_file", 512),
			varchar("content", maxContentBytes),
			{Name: "chunk_index", DataType: entity.FieldTypeInt64},
			{Name: "page_number", DataType: entity.FieldTypeInt64},
		},
	}
}

// Upsert writes chunks keyed by their store id.
func (m *MilvusIndex) Upsert(ctx context.Context, chunks []store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	n := len(chunks)
	ids := make([]int64, n)
	vecs := make([][]float32, n)
	docIDs, topics, titles, files, contents := make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
	indexes, pages := make([]int64, n), make([]int64, n)
	for i, c := range chunks {
		if len(c.Embedding) != m.dims {
			return fmt.Errorf("chunk %d has %d dimensions, collection expects %d", c.ID, len(c.Embedding), m.dims)
		}
		ids[i] = c.ID
		vecs[i] = embedding.Normalize(append([]float32(nil), c.Embedding...))
		docIDs[i] = c.DocumentID
		topics[i] = c.Topic
		titles[i] = c.Title
		files[i] = c.SourceFile
		contents[i] = truncateUTF8(c.Content, maxContentBytes)
		indexes[i] = int64(c.ChunkIndex)
		pages[i] = int64(c.PageNumber)
	}

	_, err := m.client.Upsert(ctx, m.collection, "",
		entity.NewColumnInt64("id", ids),
		entity.NewColumnFloatVector("embedding", m.dims, vecs),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("topic", topics),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("source_file", files),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnInt64("page_number", pages),
	)
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	if err := m.client.Flush(ctx, m.collection, false); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	m.log.Debug("chunks mirrored to milvus", zap.Int("count", n))
	return nil
}

var milvusOutputFields = []string{"document_id", "topic", "title", "source_file", "content", "chunk_index", "page_number"}

func (m *MilvusIndex) Search(ctx context.Context, query []float32, topic string, limit int) ([]Hit, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, err
	}
	q := embedding.Normalize(append([]float32(nil), query...))

	results, err := m.client.Search(ctx, m.collection, nil, topicExpr(topic), milvusOutputFields,
		[]entity.Vector{entity.FloatVector(q)}, "embedding", entity.IP, limit, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []Hit
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			c, err := chunkFromResult(sr, i)
			if err != nil {
				return nil, err
			}
			hits = append(hits, Hit{Chunk: c, Similarity: float64(sr.Scores[i])})
		}
	}
	return hits, nil
}

func chunkFromResult(sr client.SearchResult, i int) (store.Chunk, error) {
	var c store.Chunk
	id, err := sr.IDs.Get(i)
	if err != nil {
		return c, fmt.Errorf("read id: %w", err)
	}
	c.ID, _ = id.(int64)

	str := func(name string) string {
		col := sr.Fields.GetColumn(name)
		if col == nil {
			return ""
		}
		v, _ := col.Get(i)
		s, _ := v.(string)
		return s
	}
	num := func(name string) int {
		col := sr.Fields.GetColumn(name)
		if col == nil {
			return 0
		}
		v, _ := col.Get(i)
		n, _ := v.(int64)
		return int(n)
	}
	c.DocumentID = str("document_id")
	c.Topic = str("topic")
	c.Title = str("title")
	c.SourceFile = str("source_file")
	c.Content = str("content")
	c.ChunkIndex = num("chunk_index")
	c.PageNumber = num("page_number")
	return c, nil
}

// topicExpr builds the boolean filter for a topic, or "" for no filter.
func topicExpr(topic string) string {
	if topic == "" {
		return ""
	}
	return "topic == " + strconv.Quote(topic)
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
