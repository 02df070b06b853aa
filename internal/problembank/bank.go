package problembank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/store"
)

// Seeding limits: at most this many sheets, and this many problems from
// each, are handed to the quiz generator.
const (
	MaxSeedSheets      = 3
	MaxProblemsPerSeed = 3
)

// Bank is the problem sheet catalogue.
type Bank struct {
	repo store.ProblemSheetRepo
	log  *zap.Logger
}

func New(repo store.ProblemSheetRepo, log *zap.Logger) *Bank {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bank{repo: repo, log: log}
}

// Upload validates raw sheet JSON and stores it.
func (b *Bank) Upload(ctx context.Context, raw json.RawMessage) (*Sheet, error) {
	if err := llm.ValidateJSON(sheetSchema, raw); err != nil {
		var inv *llm.ErrInvalidResponse
		if errors.As(err, &inv) {
			return nil, &InvalidSheetError{Reason: "does not match the problem sheet format", Err: inv.Err}
		}
		return nil, &InvalidSheetError{Reason: "malformed", Err: err}
	}

	var sheet Sheet
	if err := json.Unmarshal(raw, &sheet); err != nil {
		return nil, &InvalidSheetError{Reason: "malformed", Err: err}
	}
	if err := sheet.normalize(uuid.NewString); err != nil {
		return nil, err
	}

	problems, err := json.Marshal(sheet.Problems)
	if err != nil {
		return nil, fmt.Errorf("encode problems: %w", err)
	}
	rec := store.ProblemSheet{
		ID:         sheet.ID,
		Title:      sheet.Title,
		Topic:      sheet.Topic,
		Problems:   problems,
		CourseCode: sheet.CourseCode,
		Year:       sheet.Year,
		Difficulty: sheet.Difficulty,
	}
	if err := b.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &InvalidSheetError{Reason: fmt.Sprintf("sheet %q already exists", sheet.ID), Err: err}
		}
		return nil, err
	}

	stored, err := b.repo.Get(ctx, sheet.ID)
	if err != nil {
		return nil, err
	}
	b.log.Info("problem sheet stored",
		zap.String("id", sheet.ID),
		zap.String("topic", sheet.Topic),
		zap.Int("problems", len(sheet.Problems)),
	)
	return fromRecord(*stored)
}

func (b *Bank) Get(ctx context.Context, id string) (*Sheet, error) {
	rec, err := b.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(*rec)
}

// List returns sheets whose topic contains topic (case-insensitive) and
// whose difficulty equals difficulty; empty filters match everything.
func (b *Bank) List(ctx context.Context, topic, difficulty string, limit int) ([]Sheet, error) {
	recs, err := b.repo.Find(ctx, topic, strings.ToLower(difficulty), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Sheet, 0, len(recs))
	for _, r := range recs {
		s, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// Seeds returns up to MaxSeedSheets matching sheets, each cut to its first
// MaxProblemsPerSeed problems.
func (b *Bank) Seeds(ctx context.Context, topic, difficulty string) ([]Sheet, error) {
	sheets, err := b.List(ctx, topic, difficulty, MaxSeedSheets)
	if err != nil {
		return nil, err
	}
	for i := range sheets {
		if len(sheets[i].Problems) > MaxProblemsPerSeed {
			sheets[i].Problems = sheets[i].Problems[:MaxProblemsPerSeed]
		}
	}
	return sheets, nil
}

// FormatSeeds renders seed sheets as prompt context.
func FormatSeeds(sheets []Sheet) string {
	if len(sheets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("--- PROBLEM SHEETS ---\n")
	for _, s := range sheets {
		fmt.Fprintf(&sb, "\nFrom %s:\n", s.Title)
		for _, p := range s.Problems {
			fmt.Fprintf(&sb, "Problem: %s\n", p.Question)
			if p.Solution != "" {
				fmt.Fprintf(&sb, "Solution: %s\n", p.Solution)
			}
		}
	}
	return sb.String()
}

func fromRecord(r store.ProblemSheet) (*Sheet, error) {
	s := &Sheet{
		ID:         r.ID,
		Title:      r.Title,
		Topic:      r.Topic,
		CourseCode: r.CourseCode,
		Year:       r.Year,
		Difficulty: r.Difficulty,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Problems) > 0 {
		if err := json.Unmarshal(r.Problems, &s.Problems); err != nil {
			return nil, fmt.Errorf("decode problems of sheet %s: %w", r.ID, err)
		}
	}
	return s, nil
}
