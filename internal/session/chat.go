package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/retrieval"
	"github.com/abhisek/tutorium/internal/reward"
	"github.com/abhisek/tutorium/internal/store"
	"github.com/abhisek/tutorium/internal/tracing"
	"github.com/abhisek/tutorium/internal/trajectory"
)

const chatSystemPrompt = `You are a university mathematics tutor.

- Be rigorous and encouraging. Give intuition before formal definitions.
- When the student is stuck, guide with questions and hints before giving full solutions.
- Write mathematics in LaTeX: $...$ inline and $$...$$ for display.
- When lecture material is provided under RELEVANT DOCUMENTS, base your answer on it and say which source you used.`

// ChatReply is the tutor's answer to one message.
type ChatReply struct {
	SessionID        string    `json:"session_id"`
	Reply            string    `json:"response"`
	Sources          []string  `json:"sources"`
	ContextAvailable bool      `json:"context_available"`
	Notice           string    `json:"notice,omitempty"`
	Model            string    `json:"model"`
	Usage            llm.Usage `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// Chat answers message in sessionID, creating the session on first use.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrMissingSession
	}
	ctx, span := tracing.Start(ctx, "session.chat", attribute.String("session_id", sessionID))
	defer span.End()

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if _, err := s.load(ctx, sessionID, true); err != nil {
		return nil, err
	}
	if _, err := s.sessions.AppendMessage(ctx, store.Message{
		SessionID: sessionID,
		Role:      string(llm.RoleUser),
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	hits, err := s.retriever.Retrieve(ctx, message, "", s.opts.ChatRetrievalK)
	if err != nil {
		// Answer without lecture context.
		s.log.Warn("chat retrieval failed", zap.String("session_id", sessionID), zap.Error(err))
		hits = nil
	}

	history, err := s.sessions.Messages(ctx, sessionID, s.opts.ChatHistory)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		System:      chatSystemPrompt,
		Messages:    toLLMMessages(history),
		MaxTokens:   s.opts.ChatMaxTokens,
		Temperature: s.opts.ChatTemperature,
	}
	if len(hits) > 0 {
		req.System += "\n\nRELEVANT DOCUMENTS:\n" + retrieval.FormatContext(hits)
	}

	genCtx := llm.WithSession(llm.WithPurpose(ctx, llm.PurposeTutorChat), sessionID)
	resp, err := s.provider.Generate(genCtx, req)
	if err != nil {
		return nil, err
	}
	answer := strings.TrimSpace(resp.Text)

	now := time.Now().UTC()
	if _, err := s.sessions.AppendMessage(ctx, store.Message{
		SessionID:  sessionID,
		Role:       string(llm.RoleAssistant),
		Content:    answer,
		TokensUsed: resp.Usage.TotalTokens,
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}

	reply := &ChatReply{
		SessionID:        sessionID,
		Reply:            answer,
		Sources:          sources(hits),
		ContextAvailable: len(hits) > 0,
		Model:            resp.Model,
		Usage:            resp.Usage,
		CreatedAt:        now,
	}
	if !reply.ContextAvailable && s.opts.Localizer != nil {
		reply.Notice = s.opts.Localizer.T(ctx, "chat_no_context")
	}

	st, err := s.load(ctx, sessionID, false)
	if err != nil {
		s.log.Warn("load session failed", zap.Error(err))
		return reply, nil
	}
	r, b := s.reward.ComputeInteraction(reward.Activity{Interactions: st.Interactions, Hints: st.HintsUsed})
	s.record(ctx, trajectory.Entry{
		SessionID:  sessionID,
		State:      trajectory.Snapshot(history, st.Session.Subject, "", reply.ContextAvailable, nil),
		ActionType: trajectory.ActionResponse,
		Action: responseAction{
			Message:  message,
			Response: answer,
			Sources:  reply.Sources,
		},
		Reward:           r,
		Breakdown:        b,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	})
	return reply, nil
}

type responseAction struct {
	Message  string   `json:"message"`
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

func toLLMMessages(msgs []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == string(llm.RoleAssistant) {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// sources lists distinct source files in hit order.
func sources(hits []retrieval.Hit) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, h := range hits {
		name := filepath.Base(h.Chunk.SourceFile)
		if h.Chunk.SourceFile == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
