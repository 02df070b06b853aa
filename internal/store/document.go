package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type documentRepo struct {
	db *sql.DB
}

var chunkColumns = []string{
	"id", "document_id", "title", "topic", "content", "source_file",
	"page_number", "chunk_index", "embedding", "embedding_model", "created_at",
}

func (r *documentRepo) Insert(ctx context.Context, doc Document, chunks []Chunk) ([]int64, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ins := builder.Insert(tableDocuments).
		Columns("id", "title", "topic", "source_file", "content_type", "blob_key", "chunk_count", "created_at").
		Values(doc.ID, doc.Title, doc.Topic, doc.SourceFile, doc.ContentType, doc.BlobKey, len(chunks), doc.CreatedAt)
	if _, err := exec(ctx, tx, ins); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		ins := builder.Insert(tableLectureNotes).
			Columns("document_id", "title", "topic", "content", "source_file", "page_number", "chunk_index", "created_at").
			Values(doc.ID, doc.Title, doc.Topic, c.Content, doc.SourceFile, c.PageNumber, c.ChunkIndex, doc.CreatedAt)
		res, err := exec(ctx, tx, ins)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("chunk id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func (r *documentRepo) Pending(ctx context.Context, afterID int64, limit int) ([]Chunk, error) {
	sel := builder.Select(chunkColumns...).
		From(builder.Table(tableLectureNotes)).
		Where(entsql.And(entsql.IsNull("embedding"), entsql.GT("id", afterID))).
		OrderBy("id")
	if limit > 0 {
		sel.Limit(limit)
	}
	return r.chunks(ctx, sel)
}

func (r *documentRepo) SetEmbedding(ctx context.Context, id int64, vec []float32, model string) (bool, error) {
	upd := builder.Update(tableLectureNotes).
		Set("embedding", encodeVector(vec)).
		Set("embedding_model", model).
		Where(entsql.And(entsql.EQ("id", id), entsql.IsNull("embedding")))
	res, err := exec(ctx, r.db, upd)
	if err != nil {
		return false, fmt.Errorf("set embedding %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *documentRepo) Embedded(ctx context.Context, topic string) ([]Chunk, error) {
	pred := entsql.NotNull("embedding")
	if topic != "" {
		pred = entsql.And(pred, entsql.EQ("topic", topic))
	}
	sel := builder.Select(chunkColumns...).
		From(builder.Table(tableLectureNotes)).
		Where(pred).
		OrderBy("id")
	return r.chunks(ctx, sel)
}

func (r *documentRepo) CountEmbedded(ctx context.Context) (int, error) {
	sel := builder.Select(entsql.Count("*")).
		From(builder.Table(tableLectureNotes)).
		Where(entsql.NotNull("embedding"))
	return count(ctx, r.db, sel)
}

func (r *documentRepo) ListDocuments(ctx context.Context, topic string, limit int) ([]Document, error) {
	sel := builder.Select("id", "title", "topic", "source_file", "content_type", "blob_key", "chunk_count", "created_at").
		From(builder.Table(tableDocuments)).
		OrderBy(entsql.Desc("created_at"), "id")
	if topic != "" {
		sel.Where(entsql.ContainsFold("topic", topic))
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	rows, err := query(ctx, r.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Topic, &d.SourceFile, &d.ContentType, &d.BlobKey, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *documentRepo) Stats(ctx context.Context) (DocumentStats, error) {
	var st DocumentStats
	var err error
	if st.Documents, err = count(ctx, r.db, builder.Select(entsql.Count("*")).From(builder.Table(tableDocuments))); err != nil {
		return st, fmt.Errorf("count documents: %w", err)
	}
	if st.Chunks, err = count(ctx, r.db, builder.Select(entsql.Count("*")).From(builder.Table(tableLectureNotes))); err != nil {
		return st, fmt.Errorf("count chunks: %w", err)
	}
	if st.EmbeddedChunks, err = r.CountEmbedded(ctx); err != nil {
		return st, fmt.Errorf("count embedded: %w", err)
	}
	if st.ProblemSheets, err = count(ctx, r.db, builder.Select(entsql.Count("*")).From(builder.Table(tableProblemSheets))); err != nil {
		return st, fmt.Errorf("count problem sheets: %w", err)
	}
	if st.Topics, err = distinctTopics(ctx, r.db, tableDocuments, tableProblemSheets); err != nil {
		return st, err
	}
	return st, nil
}

func (r *documentRepo) chunks(ctx context.Context, sel *entsql.Selector) ([]Chunk, error) {
	rows, err := query(ctx, r.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var (
			c     Chunk
			blob  []byte
			model sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Title, &c.Topic, &c.Content, &c.SourceFile,
			&c.PageNumber, &c.ChunkIndex, &blob, &model, &c.CreatedAt); err != nil {
			return nil, err
		}
		if blob != nil {
			if c.Embedding, err = decodeVector(blob); err != nil {
				return nil, fmt.Errorf("chunk %d: %w", c.ID, err)
			}
		}
		c.EmbeddingModel = model.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// distinctTopics returns the sorted union of topics across tables.
func distinctTopics(ctx context.Context, q querier, tables ...string) ([]string, error) {
	seen := make(map[string]bool)
	for _, t := range tables {
		sel := builder.Select("topic").From(builder.Table(t)).Distinct()
		rows, err := query(ctx, q, sel)
		if err != nil {
			return nil, fmt.Errorf("topics from %s: %w", t, err)
		}
		for rows.Next() {
			var topic string
			if err := rows.Scan(&topic); err != nil {
				rows.Close()
				return nil, err
			}
			if topic != "" {
				seen[topic] = true
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
