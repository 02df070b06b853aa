// Package config loads service configuration from defaults, an optional
// tutorium.yaml, TUTORIUM_* environment variables and bound CLI flags.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/abhisek/tutorium/internal/llm"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Quiz      QuizConfig
	Grading   GradingConfig
	Hint      HintConfig
	Reward    RewardConfig
	Redis     RedisConfig
	Milvus    MilvusConfig
	Storage   StorageConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
	Locale    string
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
}

type DatabaseConfig struct {
	Path string
}

type LLMConfig struct {
	Provider string
	Timeout  time.Duration

	AnthropicKey   string `mapstructure:"anthropic_key"`
	AnthropicModel string `mapstructure:"anthropic_model"`
	OpenAIKey      string `mapstructure:"openai_key"`
	OpenAIModel    string `mapstructure:"openai_model"`
	OpenAIBaseURL  string `mapstructure:"openai_base_url"`
	GeminiKey      string `mapstructure:"gemini_key"`
	GeminiModel    string `mapstructure:"gemini_model"`
	GeminiBaseURL  string `mapstructure:"gemini_base_url"`

	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialWait       time.Duration `mapstructure:"initial_wait"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int
}

type EmbeddingConfig struct {
	// Provider is "hash" (offline, deterministic) or "openai".
	Provider    string
	Model       string
	Dimensions  int
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type ChunkingConfig struct {
	Size      int
	Overlap   int
	Tolerance int
}

type RetrievalConfig struct {
	K             int
	MinSimilarity float64 `mapstructure:"min_similarity"`
	// Backend is "store" or "milvus".
	Backend string
}

type QuizConfig struct {
	MaxAttempts     int `mapstructure:"max_attempts"`
	ContextMessages int `mapstructure:"context_messages"`
	ContextChars    int `mapstructure:"context_chars"`
	RetrievalK      int `mapstructure:"retrieval_k"`
}

type GradingConfig struct {
	Threshold        float64
	NumericTolerance float64 `mapstructure:"numeric_tolerance"`
	// Scorer is "lexical" or "embedding".
	Scorer string
}

type HintConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type RewardConfig struct {
	Improvement                float64
	Absolute                   float64
	Engagement                 float64
	Efficiency                 float64
	ExpectedSecondsPerQuestion float64 `mapstructure:"expected_seconds_per_question"`
	FastFraction               float64 `mapstructure:"fast_fraction"`
	SlowFactor                 float64 `mapstructure:"slow_factor"`
	InteractionTarget          float64 `mapstructure:"interaction_target"`
	HintPenalty                float64 `mapstructure:"hint_penalty"`
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type MilvusConfig struct {
	Address    string
	APIKey     string `mapstructure:"api_key"`
	Collection string
}

type StorageConfig struct {
	// Type is "local" or "minio".
	Type           string
	LocalPath      string `mapstructure:"local_path"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`
}

type TracingConfig struct {
	Enabled           bool
	ServiceName       string `mapstructure:"service_name"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type LoggingConfig struct {
	Level      string
	File       string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// New returns a viper instance with defaults, env binding and the config
// search path set up. Callers may bind flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("tutorium")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tutorium")
	v.AddConfigPath("/etc/tutorium")

	v.SetEnvPrefix("TUTORIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load reads the optional config file and decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.max_upload_mb", 32)

	v.SetDefault("database.path", "")

	def := llm.DefaultConfig()
	v.SetDefault("llm.provider", def.Provider)
	v.SetDefault("llm.timeout", def.Timeout)
	v.SetDefault("llm.anthropic_model", def.Anthropic.Model)
	v.SetDefault("llm.openai_model", def.OpenAI.Model)
	v.SetDefault("llm.gemini_model", def.Gemini.Model)
	v.SetDefault("llm.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("llm.initial_wait", def.Retry.InitialWait)
	v.SetDefault("llm.max_wait", def.Retry.MaxWait)
	v.SetDefault("llm.requests_per_second", def.RateLimit.RequestsPerSecond)
	v.SetDefault("llm.burst", def.RateLimit.Burst)
	// Keys default to empty so AutomaticEnv can fill them in.
	v.SetDefault("llm.anthropic_key", "")
	v.SetDefault("llm.openai_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.gemini_key", "")
	v.SetDefault("llm.gemini_base_url", "")

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 256)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.cache_ttl", 7*24*time.Hour)

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)
	v.SetDefault("chunking.tolerance", 100)

	v.SetDefault("retrieval.k", 3)
	v.SetDefault("retrieval.min_similarity", 0.5)
	v.SetDefault("retrieval.backend", "store")

	v.SetDefault("quiz.max_attempts", 3)
	v.SetDefault("quiz.context_messages", 10)
	v.SetDefault("quiz.context_chars", 2000)
	v.SetDefault("quiz.retrieval_k", 3)

	v.SetDefault("grading.threshold", 0.8)
	v.SetDefault("grading.numeric_tolerance", 0.01)
	v.SetDefault("grading.scorer", "lexical")

	v.SetDefault("hint.max_attempts", 2)

	v.SetDefault("reward.improvement", 0.3)
	v.SetDefault("reward.absolute", 0.4)
	v.SetDefault("reward.engagement", 0.2)
	v.SetDefault("reward.efficiency", 0.1)
	v.SetDefault("reward.expected_seconds_per_question", 60.0)
	v.SetDefault("reward.fast_fraction", 0.25)
	v.SetDefault("reward.slow_factor", 3.0)
	v.SetDefault("reward.interaction_target", 10.0)
	v.SetDefault("reward.hint_penalty", 0.5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("milvus.address", "")
	v.SetDefault("milvus.api_key", "")
	v.SetDefault("milvus.collection", "lecture_notes")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "data/uploads")
	v.SetDefault("storage.minio_endpoint", "")
	v.SetDefault("storage.minio_access_key", "")
	v.SetDefault("storage.minio_secret_key", "")
	v.SetDefault("storage.minio_bucket", "tutorium")
	v.SetDefault("storage.minio_use_ssl", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tutorium")
	v.SetDefault("tracing.collector_endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("locale", "en")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	w := c.Reward
	if sum := w.Improvement + w.Absolute + w.Engagement + w.Efficiency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("reward weights must sum to 1, got %.6f", sum)
	}
	for name, x := range map[string]float64{
		"improvement": w.Improvement, "absolute": w.Absolute,
		"engagement": w.Engagement, "efficiency": w.Efficiency,
	} {
		if x < 0 {
			return fmt.Errorf("reward weight %s must be non-negative, got %g", name, x)
		}
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}
	if c.Grading.Threshold < 0 || c.Grading.Threshold > 1 {
		return fmt.Errorf("grading.threshold must be in [0, 1], got %g", c.Grading.Threshold)
	}
	return nil
}

// LLMProviderConfig converts the flat llm section into llm.Config.
func (c *Config) LLMProviderConfig() llm.Config {
	cfg := llm.DefaultConfig()
	l := c.LLM
	cfg.Provider = l.Provider
	if l.Timeout > 0 {
		cfg.Timeout = l.Timeout
	}
	cfg.Anthropic.APIKey = l.AnthropicKey
	cfg.OpenAI.APIKey = l.OpenAIKey
	cfg.OpenAI.BaseURL = l.OpenAIBaseURL
	cfg.Gemini.APIKey = l.GeminiKey
	cfg.Gemini.BaseURL = l.GeminiBaseURL
	if l.AnthropicModel != "" {
		cfg.Anthropic.Model = l.AnthropicModel
	}
	if l.OpenAIModel != "" {
		cfg.OpenAI.Model = l.OpenAIModel
	}
	if l.GeminiModel != "" {
		cfg.Gemini.Model = l.GeminiModel
	}
	if l.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = l.MaxAttempts
	}
	if l.InitialWait > 0 {
		cfg.Retry.InitialWait = l.InitialWait
	}
	if l.MaxWait > 0 {
		cfg.Retry.MaxWait = l.MaxWait
	}
	cfg.RateLimit = llm.RateLimitConfig{RequestsPerSecond: l.RequestsPerSecond, Burst: l.Burst}

	if discovered, ok := llm.DiscoverConfig(cfg); ok {
		cfg = discovered
	}
	return cfg
}
