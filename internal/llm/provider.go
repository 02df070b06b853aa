package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Provider is the core abstraction over a text generation backend.
// Quiz drafting, hinting, topic synthesis and tutor chat all go through it.
type Provider interface {
	// Generate sends a prompt to the backend. When req.Schema is set the
	// response Content is JSON validated against that schema; otherwise
	// Text carries the plain completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes what to send to the backend.
type Request struct {
	// System is the system prompt.
	System string

	// Messages is the conversation, oldest first.
	Messages []Message

	// Schema is the JSON Schema the response must conform to. Nil means a
	// free-text completion.
	Schema *Schema

	MaxTokens int

	// Temperature controls randomness. Range: 0.0 - 1.0.
	Temperature float64
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the backend.
type Schema struct {
	// Name identifies this schema, kebab-case, e.g. "quiz-draft".
	Name string

	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Response holds the backend output.
type Response struct {
	// Content is the validated JSON object for schema requests, or the
	// completion encoded as a JSON string for free-text requests.
	Content json.RawMessage

	// Text is the raw completion text. Empty for schema requests.
	Text string

	Usage Usage

	// Model is the actual model that served the request.
	Model string

	// StopReason is StopEnd or StopMaxTokens.
	StopReason string
}

// Normalized stop reasons.
const (
	StopEnd       = "end"
	StopMaxTokens = "max_tokens"
)

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// finish fills resp from the raw completion text. Free-text requests get
// Text plus a JSON-string Content; schema requests must be complete and
// valid against the schema.
func finish(req Request, resp *Response, text string) (*Response, error) {
	if req.Schema == nil {
		b, err := json.Marshal(text)
		if err != nil {
			return nil, &ErrInvalidResponse{Err: err}
		}
		resp.Content, resp.Text = b, text
		return resp, nil
	}

	content := json.RawMessage(text)
	if resp.StopReason == StopMaxTokens {
		return nil, &ErrMaxTokensExceeded{Content: content}
	}
	if err := validateResponse(req.Schema, content); err != nil {
		return nil, err
	}
	resp.Content = content
	return resp, nil
}

// classify maps a transport error carrying an HTTP status to the package's
// error types. Caller cancellation passes through untouched.
func classify(err error, status int) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case status == http.StatusTooManyRequests:
		return &ErrRateLimit{Err: err}
	default:
		return &ErrProviderUnavailable{Err: err}
	}
}
