package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond, Multiplier: 2}
}

func okResp() MockResponse { return MockResponse{Content: json.RawMessage(`{"ok":true}`)} }

func failResp(err error) MockResponse { return MockResponse{Err: err} }

// isA reports whether err wraps an error of type T.
func isA[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func TestRetry(t *testing.T) {
	down := func() error { return &ErrProviderUnavailable{Err: errors.New("down")} }
	invalid := func() error { return &ErrInvalidResponse{Content: json.RawMessage(`bad`), Err: errors.New("bad")} }
	timeout := func() error { return &ErrTimeout{After: time.Second, Purpose: PurposeQuizDraft} }
	deadline := func(err error) bool { return errors.Is(err, context.DeadlineExceeded) }

	tests := []struct {
		name      string
		responses []MockResponse
		wantCalls int
		// wantErr is nil when the call should succeed.
		wantErr func(error) bool
	}{
		{"first attempt", []MockResponse{okResp()}, 1, nil},
		{"unavailable then ok", []MockResponse{failResp(down()), okResp()}, 2, nil},
		{"unavailable every time", []MockResponse{failResp(down()), failResp(down()), failResp(down())}, 3, isA[*ErrProviderUnavailable]},
		{"rate limit honours retry-after", []MockResponse{failResp(&ErrRateLimit{RetryAfter: time.Millisecond}), okResp()}, 2, nil},
		{"max tokens is final", []MockResponse{failResp(&ErrMaxTokensExceeded{}), okResp()}, 1, isA[*ErrMaxTokensExceeded]},
		{"invalid response retried once", []MockResponse{failResp(invalid()), failResp(invalid()), okResp()}, 2, isA[*ErrInvalidResponse]},
		{"timeout retried once", []MockResponse{failResp(timeout()), failResp(timeout()), okResp()}, 2, isA[*ErrTimeout]},
		{"timeout then ok", []MockResponse{failResp(timeout()), okResp()}, 2, nil},
		{"timeout and invalid have separate budgets", []MockResponse{failResp(timeout()), failResp(invalid()), okResp()}, 3, nil},
		{"caller deadline is final", []MockResponse{failResp(context.DeadlineExceeded), okResp()}, 1, deadline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockProvider(tt.responses...)
			resp, err := WithRetry(mock, fastRetry()).Generate(context.Background(), Request{})

			if got := mock.CallCount(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.wantErr != nil {
				if !tt.wantErr(err) {
					t.Fatalf("unexpected error %v (%T)", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(resp.Content) != `{"ok":true}` {
				t.Errorf("content = %s", resp.Content)
			}
		})
	}
}

func TestRetry_StopsWhenContextCancelled(t *testing.T) {
	mock := NewMockProvider(failResp(&ErrProviderUnavailable{}), okResp())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetry(mock, RetryConfig{MaxAttempts: 3, InitialWait: time.Hour, MaxWait: time.Hour, Multiplier: 2}).Generate(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", mock.CallCount())
	}
}

func TestRetry_BackoffIsCapped(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{MaxAttempts: 5, InitialWait: 10 * time.Millisecond, MaxWait: 40 * time.Millisecond, Multiplier: 2}}
	for attempt := range 6 {
		d := r.backoff(attempt, errors.New("x"))
		if d > 48*time.Millisecond {
			t.Errorf("attempt %d: backoff %v exceeds cap plus jitter", attempt, d)
		}
	}
	if d := r.backoff(0, &ErrRateLimit{RetryAfter: 3 * time.Second}); d != 3*time.Second {
		t.Errorf("retry-after backoff = %v, want 3s", d)
	}
}

func TestRetry_ModelIDDelegates(t *testing.T) {
	if id := WithRetry(NewMockProvider(), fastRetry()).ModelID(); id != "mock" {
		t.Fatalf("ModelID = %q, want mock", id)
	}
}
