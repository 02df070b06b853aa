package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMockProvider_FIFOAndRecording(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"a":1}`), Usage: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
		MockResponse{Err: &ErrRateLimit{}},
	)
	schema := &Schema{Name: "x", Definition: map[string]any{"type": "object"}}

	resp, err := mock.Generate(context.Background(), Request{System: "sys", Schema: schema})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Content) != `{"a":1}` || resp.Usage.TotalTokens != 15 || resp.StopReason != "end" {
		t.Errorf("first response = %+v", resp)
	}

	_, err = mock.Generate(context.Background(), Request{})
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("second call err = %T, want *ErrRateLimit", err)
	}

	_, err = mock.Generate(context.Background(), Request{})
	var down *ErrProviderUnavailable
	if !errors.As(err, &down) {
		t.Fatalf("empty queue err = %T, want *ErrProviderUnavailable", err)
	}

	if mock.CallCount() != 3 || mock.Calls[0].System != "sys" {
		t.Errorf("calls = %d, first system = %q", mock.CallCount(), mock.Calls[0].System)
	}
	if mock.ModelID() != "mock" {
		t.Errorf("ModelID = %q", mock.ModelID())
	}
}

func TestMockProvider_TextOnlyForFreeTextRequests(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Text: "plain answer"},
		MockResponse{Text: "ignored", Content: json.RawMessage(`{"hint":"h"}`)},
	)

	resp, err := mock.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "plain answer" || string(resp.Content) != `"plain answer"` {
		t.Errorf("free text response = %q / %s", resp.Text, resp.Content)
	}

	resp, err = mock.Generate(context.Background(), Request{Schema: &Schema{Name: "hint"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "" || string(resp.Content) != `{"hint":"h"}` {
		t.Errorf("schema response = %q / %s", resp.Text, resp.Content)
	}
}

func TestMockProvider_DelayHonoursContext(t *testing.T) {
	mock := NewMockProvider(MockResponse{Text: "late", Delay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.Generate(ctx, Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestContextLabels(t *testing.T) {
	ctx := context.Background()
	if p := PurposeFrom(ctx); p != "unknown" {
		t.Errorf("PurposeFrom(empty) = %q, want unknown", p)
	}
	if s := SessionFrom(ctx); s != "" {
		t.Errorf("SessionFrom(empty) = %q, want empty", s)
	}

	ctx = WithSession(WithPurpose(ctx, PurposeQuizHint), "sess-9")
	if p := PurposeFrom(ctx); p != PurposeQuizHint {
		t.Errorf("PurposeFrom = %q, want %q", p, PurposeQuizHint)
	}
	if s := SessionFrom(ctx); s != "sess-9" {
		t.Errorf("SessionFrom = %q, want sess-9", s)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anthropic without key", Config{Provider: "anthropic"}, true},
		{"anthropic with key", Config{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "sk-test"}}, false},
		{"openai without key", Config{Provider: "openai"}, true},
		{"openai with key", Config{Provider: "openai", OpenAI: OpenAIConfig{APIKey: "sk-test"}}, false},
		{"gemini without key", Config{Provider: "gemini"}, true},
		{"mock needs no key", Config{Provider: "mock"}, false},
		{"unknown provider", Config{Provider: "llama"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFinish(t *testing.T) {
	resp, err := finish(Request{}, &Response{StopReason: StopMaxTokens}, `say "hi"`)
	if err != nil {
		t.Fatalf("free text: %v", err)
	}
	if resp.Text != `say "hi"` || string(resp.Content) != `"say \"hi\""` {
		t.Errorf("free text = %q / %s", resp.Text, resp.Content)
	}

	resp, err = finish(Request{Schema: hintSchema()}, &Response{StopReason: StopEnd}, `{"hint":"h"}`)
	if err != nil || resp.Text != "" {
		t.Fatalf("structured = %+v, %v", resp, err)
	}

	_, err = finish(Request{Schema: hintSchema()}, &Response{StopReason: StopMaxTokens}, `{"hint":"h"}`)
	if !isA[*ErrMaxTokensExceeded](err) {
		t.Errorf("truncated structured err = %v", err)
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	if err := classify(base, 429); !isA[*ErrRateLimit](err) {
		t.Errorf("429 -> %T", err)
	}
	if err := classify(base, 503); !isA[*ErrProviderUnavailable](err) {
		t.Errorf("503 -> %T", err)
	}
	if err := classify(context.Canceled, 0); err != context.Canceled {
		t.Errorf("cancellation rewrapped as %T", err)
	}
}

func TestDiscoverConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GEMINI_API_KEY", "")

	got, ok := DiscoverConfig(Config{Provider: "openai"})
	if !ok || got.Provider != "anthropic" || got.Anthropic.APIKey != "sk-ant" {
		t.Errorf("discovered = %+v, %v", got, ok)
	}

	got, ok = DiscoverConfig(Config{Provider: "mock"})
	if !ok || got.Provider != "mock" {
		t.Errorf("explicit mock overridden: %+v", got)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, ok := DiscoverConfig(Config{Provider: "gemini"}); ok {
		t.Error("expected no usable config without keys")
	}
}
