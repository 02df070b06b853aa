package quiz

import "github.com/abhisek/tutorium/internal/llm"

// DraftSchema is the structured output requested for a quiz draft.
var DraftSchema = &llm.Schema{
	Name:        "quiz-draft",
	Description: "A draft quiz with answers and explanations",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short quiz title",
			},
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{
							"type":        "string",
							"description": "The question text",
						},
						"type": map[string]any{
							"type": "string",
							"enum": []any{string(KindMultipleChoice), string(KindShortAnswer)},
						},
						"options": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Four options for multiple_choice, without letter labels. Empty for short_answer.",
						},
						"correct_answer": map[string]any{
							"type":        "string",
							"description": "The option letter (A-D) for multiple_choice, the answer text for short_answer",
						},
						"explanation": map[string]any{
							"type":        "string",
							"description": "Brief worked reasoning for the correct answer",
						},
					},
					"required":             []any{"question", "type", "options", "correct_answer", "explanation"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"title", "questions"},
		"additionalProperties": false,
	},
}

// TopicSchema is the structured output requested when synthesizing a
// quiz topic from conversation.
var TopicSchema = &llm.Schema{
	Name:        "topic-synthesis",
	Description: "The mathematical topic of a tutoring conversation",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topic": map[string]any{
				"type":        "string",
				"minLength":   1,
				"maxLength":   200,
				"description": "A short description of the topic the student is learning",
			},
		},
		"required":             []any{"topic"},
		"additionalProperties": false,
	},
}
