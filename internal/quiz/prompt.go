package quiz

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a university mathematics tutor writing short practice quizzes.

Rules:
- Write exactly the number of questions requested. No more, no fewer.
- Each question is either "multiple_choice" or "short_answer".
- Multiple choice questions have exactly 4 options written without letter labels. correct_answer is the letter (A, B, C or D) of the single correct option.
- Short answer questions have an empty options list. correct_answer is the concise canonical answer, a number where possible.
- Every question needs a brief explanation of the correct answer.
- Never repeat a question within the quiz.
- Ground questions in the lecture material and problem sheets when they are provided. Use the problem sheets as a guide to style and level.
- Use plain text or $...$ for mathematics.`

// buildDraftMessage assembles the drafting prompt. feedback lists the
// reasons earlier drafts were rejected, oldest first.
func buildDraftMessage(req Request, lecture, seeds, conversation string, feedback []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	fmt.Fprintf(&b, "Difficulty: %s\n", req.Difficulty)
	fmt.Fprintf(&b, "Number of questions: %d\n", req.NumQuestions)
	fmt.Fprintf(&b, "Allowed question types: %s, %s\n", KindMultipleChoice, KindShortAnswer)

	b.WriteString("\nRELEVANT DOCUMENTS:\n")
	if lecture == "" {
		b.WriteString("None")
	} else {
		b.WriteString(lecture)
	}

	if seeds != "" {
		b.WriteString("\n\n")
		b.WriteString(seeds)
	}

	if conversation != "" {
		b.WriteString("\n\nCONVERSATION HISTORY (base the questions on what was actually discussed):\n")
		b.WriteString(conversation)
	}

	if len(feedback) > 0 {
		b.WriteString("\n\nYour previous draft was rejected. Fix these problems:\n")
		for i, f := range feedback {
			fmt.Fprintf(&b, "%d. %s\n", i+1, f)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func buildTopicMessage(conversation string) string {
	return "Name the mathematical topic this student is currently learning, in a few words.\n\nCONVERSATION:\n" + conversation
}
