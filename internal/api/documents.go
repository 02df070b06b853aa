package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/docindex"
	"github.com/abhisek/tutorium/internal/problembank"
)

// listLimit caps document and sheet listings.
const listLimit = 100

type uploadResponse struct {
	DocumentID    string  `json:"document_id"`
	ChunksCreated int     `json:"chunks_created"`
	ChunkIDs      []int64 `json:"chunk_ids"`
	Embedded      int     `json:"embedded"`
}

func (s *Server) handleUploadLectureNotes(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, r, err, "")
			return
		}
		s.writeError(w, r, badRequestf("expected a multipart form: %v", err), "")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, badRequestf("file is required"), "")
		return
	}
	defer file.Close()

	topic := strings.TrimSpace(r.FormValue("topic"))
	if topic == "" {
		s.writeError(w, r, badRequestf("topic is required"), "")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("read upload: %w", err), "")
		return
	}

	res, err := s.index.Ingest(r.Context(), docindex.Upload{
		Filename: filepath.Base(header.Filename),
		Data:     data,
		Topic:    topic,
		Title:    strings.TrimSpace(r.FormValue("title")),
	})
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	// Chunks that fail to embed stay pending for the next run.
	embedded, err := s.index.EmbedPending(r.Context())
	if err != nil {
		s.log.Warn("embed after upload failed", zap.String("document_id", res.DocumentID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		DocumentID:    res.DocumentID,
		ChunksCreated: len(res.ChunkIDs),
		ChunkIDs:      res.ChunkIDs,
		Embedded:      embedded,
	})
}

type documentView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Topic       string    `json:"topic"`
	SourceFile  string    `json:"source_file"`
	ContentType string    `json:"content_type"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleListLectureNotes(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.ListDocuments(r.Context(), r.URL.Query().Get("topic"), listLimit)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentView{
			ID:          d.ID,
			Title:       d.Title,
			Topic:       d.Topic,
			SourceFile:  d.SourceFile,
			ContentType: d.ContentType,
			ChunkCount:  d.ChunkCount,
			CreatedAt:   d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "count": len(out)})
}

type sheetUploadResponse struct {
	ID            string `json:"id"`
	ProblemsCount int    `json:"problems_count"`
}

func (s *Server) handleUploadProblemSheet(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	sheet, err := s.bank.Upload(r.Context(), raw)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, sheetUploadResponse{ID: sheet.ID, ProblemsCount: len(sheet.Problems)})
}

func (s *Server) handleListProblemSheets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	difficulty := q.Get("difficulty")
	if difficulty != "" {
		d, ok := problembank.NormalizeDifficulty(difficulty)
		if !ok {
			s.writeError(w, r, badRequestf("unknown difficulty %q", difficulty), "")
			return
		}
		difficulty = d
	}
	sheets, err := s.bank.List(r.Context(), q.Get("topic"), difficulty, listLimit)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"problem_sheets": sheets, "count": len(sheets)})
}

func (s *Server) handleGetProblemSheet(w http.ResponseWriter, r *http.Request) {
	sheet, err := s.bank.Get(r.Context(), chi.URLParam(r, "sheetID"))
	if err != nil {
		s.writeError(w, r, err, "Problem sheet")
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

type statsResponse struct {
	Documents      int      `json:"documents"`
	LectureChunks  int      `json:"lecture_note_chunks"`
	EmbeddedChunks int      `json:"embedded_chunks"`
	ProblemSheets  int      `json:"problem_sheets"`
	Problems       int      `json:"total_problems"`
	Topics         []string `json:"topics"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.documents.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	sheets, err := s.bank.List(r.Context(), "", "", 0)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	problems := 0
	for _, sh := range sheets {
		problems += len(sh.Problems)
	}
	topics := st.Topics
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Documents:      st.Documents,
		LectureChunks:  st.Chunks,
		EmbeddedChunks: st.EmbeddedChunks,
		ProblemSheets:  st.ProblemSheets,
		Problems:       problems,
		Topics:         topics,
	})
}
