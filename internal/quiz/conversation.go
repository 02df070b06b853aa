package quiz

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/llm"
	"github.com/abhisek/tutorium/internal/store"
)

// DefaultTopic is used when there is neither a topic nor a conversation.
const DefaultTopic = "General Mathematics"

const fallbackTopicChars = 120

// ConversationWindow renders the last maxMessages messages, keeping at
// most maxChars characters from the newest end.
func ConversationWindow(msgs []store.Message, maxMessages, maxChars int) string {
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := "Student"
		if m.Role == string(llm.RoleAssistant) {
			role = "Tutor"
		}
		lines = append(lines, role+": "+strings.TrimSpace(m.Content))
	}
	out := strings.Join(lines, "\n")
	if maxChars > 0 {
		if rs := []rune(out); len(rs) > maxChars {
			out = string(rs[len(rs)-maxChars:])
		}
	}
	return out
}

// synthesizeTopic asks the backend for the topic of the conversation. It
// never fails: backend errors fall back to the start of the latest
// student message.
func (g *Generator) synthesizeTopic(ctx context.Context, msgs []store.Message, window string) (string, llm.Usage) {
	if window == "" {
		return DefaultTopic, llm.Usage{}
	}
	ctx = llm.WithPurpose(ctx, llm.PurposeTopicSynthesis)
	resp, err := g.provider.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildTopicMessage(window)}},
		Schema:      TopicSchema,
		MaxTokens:   128,
		Temperature: 0.2,
	})
	if err == nil {
		var out struct {
			Topic string `json:"topic"`
		}
		if jerr := json.Unmarshal(resp.Content, &out); jerr == nil {
			if t := strings.TrimSpace(out.Topic); t != "" {
				return t, resp.Usage
			}
		}
		return fallbackTopic(msgs), resp.Usage
	}
	g.log.Warn("topic synthesis failed, using latest message", zap.Error(err))
	return fallbackTopic(msgs), llm.Usage{}
}

func fallbackTopic(msgs []store.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != string(llm.RoleUser) {
			continue
		}
		t := strings.TrimSpace(msgs[i].Content)
		if t == "" {
			continue
		}
		if rs := []rune(t); len(rs) > fallbackTopicChars {
			t = string(rs[:fallbackTopicChars])
		}
		return t
	}
	return DefaultTopic
}
