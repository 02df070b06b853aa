package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/store"
)

// Deps carries the optional collaborators of the decorator chain.
type Deps struct {
	Events   store.EventRepo
	Logger   *zap.Logger
	Observer UsageObserver
}

// NewProvider creates a Provider from configuration, wrapped as
// caller -> retry -> timeout -> rate limit -> logging -> base.
func NewProvider(ctx context.Context, cfg Config, deps Deps) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "mock":
		base = NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	p := WithLogging(base, deps.Events, deps.Logger, deps.Observer)
	p = WithRateLimit(p, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	p = WithTimeout(p, cfg.Timeout)
	return WithRetry(p, cfg.Retry), nil
}
