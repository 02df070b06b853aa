// Package app assembles the tutor's services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/api"
	"github.com/abhisek/tutorium/internal/config"
	"github.com/abhisek/tutorium/internal/docindex"
	"github.com/abhisek/tutorium/internal/embedding"
	"github.com/abhisek/tutorium/internal/grading"
	"github.com/abhisek/tutorium/internal/hint"
	"github.com/abhisek/tutorium/internal/i18n"
	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/metrics"
	"github.com/abhisek/tutorium/internal/problembank"
	"github.com/abhisek/tutorium/internal/quiz"
	"github.com/abhisek/tutorium/internal/retrieval"
	"github.com/abhisek/tutorium/internal/reward"
	"github.com/abhisek/tutorium/internal/session"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
	"github.com/abhisek/tutorium/internal/trajectory"
)

// Options overrides parts of the wiring, mostly for tests.
type Options struct {
	// Store is used instead of opening cfg.Database.Path.
	Store *store.Store
	// Provider is used instead of building one from cfg.LLM.
	Provider llm.Provider
	// Embedder is used instead of building one from cfg.Embedding.
	Embedder embedding.Embedder
	// Registry receives the metrics; a fresh one is created when nil.
	Registry *prometheus.Registry
}

// App holds every long-lived service.
type App struct {
	Config       *config.Config
	Store        *store.Store
	Provider     llm.Provider
	Embedder     embedding.Embedder
	Index        *docindex.Index
	Retriever    *retrieval.Retriever
	Bank         *problembank.Bank
	Sessions     *session.Service
	Trajectories *trajectory.Recorder
	Translator   *i18n.Translator
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Log          *zap.Logger

	closers []func() error
}

// New builds the App. A backend that cannot be configured leaves AI
// features unavailable rather than failing.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}

	a.Registry = opts.Registry
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	a.Metrics = metrics.New(a.Registry)

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	}

	a.Store = opts.Store
	if a.Store == nil {
		path := cfg.Database.Path
		if path == "" {
			p, err := store.DefaultDBPath()
			if err != nil {
				return nil, err
			}
			path = p
		} else if err := store.EnsureDir(path); err != nil {
			return nil, err
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		a.Store = st
		a.closers = append(a.closers, st.Close)
	}

	tr, err := i18n.New(cfg.Locale, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load translations: %w", err)
	}
	a.Translator = tr

	a.Provider = opts.Provider
	if a.Provider == nil {
		p, err := llm.NewProvider(ctx, cfg.LLMProviderConfig(), llm.Deps{
			Events:   a.Store.EventRepo(),
			Logger:   log,
			Observer: a.Metrics,
		})
		if err != nil {
			log.Warn("LLM provider not configured; AI features will be unavailable", zap.Error(err))
			p = unavailable{err: err}
		}
		a.Provider = p
	}

	a.Embedder = opts.Embedder
	if a.Embedder == nil {
		e, err := a.buildEmbedder(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Embedder = e
	}

	if err := a.buildServices(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildEmbedder(ctx context.Context) (embedding.Embedder, error) {
	cfg := a.Config
	var inner embedding.Embedder
	switch cfg.Embedding.Provider {
	case "", "hash":
		inner = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     cfg.LLM.OpenAIKey,
			BaseURL:    cfg.LLM.OpenAIBaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	var cache embedding.Cache = embedding.NewMemoryCache()
	if cfg.Redis.Enabled {
		rc, err := embedding.NewRedisCache(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Embedding.CacheTTL)
		if err != nil {
			a.Log.Warn("redis unavailable; using in-memory embedding cache", zap.Error(err))
		} else {
			cache = rc
			a.closers = append(a.closers, rc.Close)
		}
	}
	return embedding.NewCachedEmbedder(inner, cache, a.Log, a.Metrics), nil
}

func (a *App) buildServices(ctx context.Context) error {
	cfg := a.Config
	log := a.Log
	st := a.Store

	var blobs docindex.BlobStore
	switch cfg.Storage.Type {
	case "", "local":
		blobs = docindex.NewLocalBlobStore(cfg.Storage.LocalPath)
	case "minio":
		mb, err := docindex.NewMinioBlobStore(ctx, docindex.MinioConfig{
			Endpoint:  cfg.Storage.MinioEndpoint,
			AccessKey: cfg.Storage.MinioAccessKey,
			SecretKey: cfg.Storage.MinioSecretKey,
			Bucket:    cfg.Storage.MinioBucket,
			UseSSL:    cfg.Storage.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("minio blob store: %w", err)
		}
		blobs = mb
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}

	var (
		index  retrieval.VectorIndex = retrieval.NewStoreIndex(st.Documents())
		mirror docindex.VectorSink
	)
	if cfg.Retrieval.Backend == "milvus" {
		mi, err := retrieval.NewMilvusIndex(ctx, retrieval.MilvusConfig{
			Address:    cfg.Milvus.Address,
			APIKey:     cfg.Milvus.APIKey,
			Collection: cfg.Milvus.Collection,
			Dimensions: a.Embedder.Dimensions(),
		}, log)
		if err != nil {
			return fmt.Errorf("milvus index: %w", err)
		}
		index, mirror = mi, mi
		a.closers = append(a.closers, mi.Close)
	}

	a.Index = docindex.New(st.Documents(), a.Embedder, docindex.Options{
		Chunker: docindex.Chunker{
			Size:      cfg.Chunking.Size,
			Overlap:   cfg.Chunking.Overlap,
			Tolerance: cfg.Chunking.Tolerance,
		},
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		Blobs:       blobs,
		Mirror:      mirror,
		Metrics:     a.Metrics,
		Logger:      log,
	})
	a.Retriever = retrieval.New(a.Embedder, index, retrieval.Options{
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		Metrics:       a.Metrics,
		Logger:        log,
	})
	a.Bank = problembank.New(st.ProblemSheets(), log)

	qopts := quiz.DefaultOptions()
	qopts.MaxAttempts = cfg.Quiz.MaxAttempts
	qopts.RetrievalK = cfg.Quiz.RetrievalK
	qopts.ContextMessages = cfg.Quiz.ContextMessages
	qopts.ContextChars = cfg.Quiz.ContextChars
	qopts.Metrics = a.Metrics
	qopts.Logger = log
	generator := quiz.New(a.Provider, a.Retriever, a.Bank, st.Quizzes(), qopts)

	var scorer grading.Scorer = grading.LexicalScorer{}
	if cfg.Grading.Scorer == "embedding" {
		scorer = grading.NewEmbeddingScorer(a.Embedder)
	}
	grader := grading.New(scorer, grading.Options{
		Threshold:        cfg.Grading.Threshold,
		NumericTolerance: cfg.Grading.NumericTolerance,
		Metrics:          a.Metrics,
		Logger:           log,
	})

	hinter := hint.New(a.Provider, st.Hints(), hint.Options{
		MaxAttempts: cfg.Hint.MaxAttempts,
		Localizer:   a.Translator,
		Metrics:     a.Metrics,
		Logger:      log,
	})

	rw := cfg.Reward
	computer, err := reward.New(reward.Params{
		Weights: reward.Weights{
			Improvement: rw.Improvement,
			Absolute:    rw.Absolute,
			Engagement:  rw.Engagement,
			Efficiency:  rw.Efficiency,
		},
		ExpectedSecondsPerQuestion: rw.ExpectedSecondsPerQuestion,
		FastFraction:               rw.FastFraction,
		SlowFactor:                 rw.SlowFactor,
		InteractionTarget:          rw.InteractionTarget,
		HintPenalty:                rw.HintPenalty,
	})
	if err != nil {
		return err
	}
	a.Trajectories = trajectory.New(st.Trajectories(), a.Metrics, log)

	a.Sessions = session.New(session.Deps{
		Sessions:    st.Sessions(),
		Quizzes:     st.Quizzes(),
		Submissions: st.Submissions(),
		Hints:       st.Hints(),
		Performance: st.Performance(),
		Generator:   generator,
		Grader:      grader,
		Hinter:      hinter,
		Retriever:   a.Retriever,
		Provider:    a.Provider,
		Reward:      computer,
		Recorder:    a.Trajectories,
	}, session.Options{
		ChatRetrievalK: cfg.Retrieval.K,
		Localizer:      a.Translator,
		Logger:         log,
	})
	return nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return api.New(api.Deps{
		Sessions:     a.Sessions,
		Index:        a.Index,
		Bank:         a.Bank,
		Documents:    a.Store.Documents(),
		Topics:       a.Store.Sessions(),
		Trajectories: a.Trajectories,
		Translator:   a.Translator,
		Metrics:      a.Metrics,
		Gatherer:     a.Registry,
		Logger:       a.Log,
		MaxUploadMB:  int(a.Config.Server.MaxUploadMB),
	}).Handler()
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// unavailable stands in for a backend that could not be configured.
type unavailable struct{ err error }

func (u unavailable) Generate(context.Context, llm.Request) (*llm.Response, error) {
	return nil, &llm.ErrProviderUnavailable{Err: u.err}
}

func (u unavailable) ModelID() string { return "unavailable" }
