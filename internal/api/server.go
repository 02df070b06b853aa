// Package api serves the tutor over HTTP with chi.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/docindex"
	"github.com/abhisek/tutorium/internal/i18n"
	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/problembank"
	"github.com/abhisek/tutorium/internal/session"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
	"github.com/abhisek/tutorium/internal/trajectory"
)

// DefaultMaxUploadMB bounds lecture-note and problem-sheet uploads.
const DefaultMaxUploadMB = 32

// TopicLister lists every known topic; store.SessionRepo implements it.
type TopicLister interface {
	Topics(ctx context.Context) ([]string, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Sessions     *session.Service
	Index        *docindex.Index
	Bank         *problembank.Bank
	Documents    store.DocumentRepo
	Topics       TopicLister
	Trajectories *trajectory.Recorder
	Translator   *i18n.Translator
	Metrics      *metrics.Metrics
	// Gatherer serves /metrics when set.
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	MaxUploadMB int
}

// Server holds shared dependencies for HTTP handlers.
type Server struct {
	sessions     *session.Service
	index        *docindex.Index
	bank         *problembank.Bank
	documents    store.DocumentRepo
	topics       TopicLister
	trajectories *trajectory.Recorder
	tr           *i18n.Translator
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	log          *zap.Logger
	maxUpload    int64
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxUploadMB <= 0 {
		d.MaxUploadMB = DefaultMaxUploadMB
	}
	return &Server{
		sessions:     d.Sessions,
		index:        d.Index,
		bank:         d.Bank,
		documents:    d.Documents,
		topics:       d.Topics,
		trajectories: d.Trajectories,
		tr:           d.Translator,
		metrics:      d.Metrics,
		gatherer:     d.Gatherer,
		log:          d.Logger,
		maxUpload:    int64(d.MaxUploadMB) << 20,
	}
}

// Handler returns the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware)
	r.Use(s.metrics.Middleware)
	if s.tr != nil {
		r.Use(s.tr.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	r.Route("/api", s.Routes)
	return r
}

// Routes registers the /api routes.
func (s *Server) Routes(r chi.Router) {
	r.Route("/quiz", func(r chi.Router) {
		r.Post("/generate", s.handleGenerateQuiz)
		r.Get("/history/{sessionID}", s.handleQuizHistory)
		r.Get("/{quizID}", s.handleGetQuiz)
		r.Post("/{quizID}/submit", s.handleSubmitQuiz)
		r.Post("/{quizID}/hint", s.handleHint)
	})
	r.Route("/documents", func(r chi.Router) {
		r.Post("/lecture-notes/upload", s.handleUploadLectureNotes)
		r.Get("/lecture-notes", s.handleListLectureNotes)
		r.Post("/problem-sheets/upload", s.handleUploadProblemSheet)
		r.Get("/problem-sheets", s.handleListProblemSheets)
		r.Get("/problem-sheets/{sheetID}", s.handleGetProblemSheet)
		r.Get("/stats", s.handleStats)
	})
	r.Route("/chat", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Get("/session/{sessionID}", s.handleGetSession)
		r.Post("/message", s.handleChatMessage)
		r.Get("/topics", s.handleTopics)
	})
	r.Route("/trajectories", func(r chi.Router) {
		r.Get("/export", s.handleExportTrajectories)
		r.Get("/{sessionID}", s.handleSessionTrajectories)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
