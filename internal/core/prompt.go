package core

import (
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/chitchat-labs/backend/internal/store"
)

// Mode selects one of the conversation styles. Unknown values parse to
// ModeExplain.
type Mode string

const (
	ModeExplain Mode = "explain"
	ModeTutor   Mode = "tutor"
	ModeExam    Mode = "exam"
)

func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTutor:
		return ModeTutor
	case ModeExam:
		return ModeExam
	default:
		return ModeExplain
	}
}

const (
	// historyRepairPlaceholder is prepended as a synthetic user turn whenever
	// the mapped history would otherwise start with an assistant turn, which
	// the Gemini API rejects. This happens when a session was seeded with an
	// opening assistant greeting.
	historyRepairPlaceholder = "Hello, I'm interested in this topic. Please guide me."

	// noContextMarker is what the system instruction carries when resources
	// were selected but nothing met the similarity threshold.
	noContextMarker = "No relevant info found in selected documents."

	// contextErrorMarker stands in when retrieval itself failed.
	contextErrorMarker = "[[Error retrieving context]]"

	chunkSeparator = "\n\n---\n\n"
)

// Prompt is the fully composed model input: a system instruction, the
// role-ordered history, and the live user input sent as a distinct trailing
// message.
type Prompt struct {
	System  string
	History []*genai.Content
	Input   string
}

type templateBuilder func(tone, contextText string) string

var modeTemplates = map[Mode]templateBuilder{
	ModeExplain: explainTemplate,
	ModeTutor:   tutorTemplate,
	ModeExam:    examTemplate,
}

var defaultTones = map[Mode]string{
	ModeExplain: "casual",
	ModeTutor:   "patient and encouraging",
	ModeExam:    "challenging but fair, with a gamified vibe",
}

// ComposePrompt builds the model input from the stored history, the
// retrieval result and the new user input. It never fails: a missing tone
// falls back to the mode's default and missing context becomes an explicit
// placeholder.
func ComposePrompt(mode Mode, tone string, history []store.Message, retrieval Retrieval, input string) Prompt {
	builder, ok := modeTemplates[mode]
	if !ok {
		builder = explainTemplate
		mode = ModeExplain
	}
	if tone == "" {
		tone = defaultTones[mode]
	}

	mapped := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		role := "user"
		if msg.Sender == store.SenderAssistant {
			role = "model"
		}
		mapped = append(mapped, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	// The model requires the first history entry to be a user turn. Seeded
	// sessions start with an assistant greeting, so repair structurally.
	if len(mapped) > 0 && mapped[0].Role == "model" {
		mapped = append([]*genai.Content{{
			Role:  "user",
			Parts: []genai.Part{genai.Text(historyRepairPlaceholder)},
		}}, mapped...)
	}

	return Prompt{
		System:  builder(tone, retrieval.ContextText()),
		History: mapped,
		Input:   input,
	}
}

func contextBlock(contextText string) string {
	if contextText == "" {
		contextText = "None provided."
	}
	return `"""` + contextText + `"""`
}

func explainTemplate(tone, contextText string) string {
	return fmt.Sprintf(`You are ChitChat, an expert and engaging AI assistant.
Your goal is to HELP the user based on the current conversation context.

- If the conversation started with a seed prompt (where you proposed a topic), your job is to address that topic immediately
- Use analogies and real-world examples to make concepts clear
- Break complex topics into digestible pieces
- Always end with a "micro-action" or a thought-provoking question
- Keep your tone %s and helpful

Context from user's resources:
%s

Remember: Be proactive, clear, and make interactions enjoyable!`, tone, contextBlock(contextText))
}

func tutorTemplate(tone, contextText string) string {
	return fmt.Sprintf(`You are ChitChat, an expert AI tutor in teaching mode.

Your mission: TEACH the user about the topic they're learning, step by step.

Guidelines:
- Start by explaining the core concept clearly and simply
- Use analogies, real-world examples, and metaphors
- Break down complex ideas into bite-sized pieces
- Ask questions to check understanding (Socratic method)
- Encourage the learner and celebrate progress
- If they seem confused, rephrase and try a different approach
- Always end with: "Ready for the next step?" or a practice question

Tone: %s

Context from resources:
%s

Remember: You're not just answering questions, you're actively teaching!`, tone, contextBlock(contextText))
}

func examTemplate(tone, contextText string) string {
	return fmt.Sprintf(`You are ChitChat in FINAL BOSS mode!

Your mission: TEST the user's mastery of the topic through challenging questions.

Guidelines:
- Start by asking a moderately difficult question about the core concepts
- If they answer correctly, increase the difficulty progressively
- If they struggle, provide hints but don't give away the answer
- Ask follow-up questions that require deep understanding, not just memorization
- Mix question types: multiple choice, true/false, scenario-based, and open-ended
- After 5-7 questions, provide a "Boss Battle Summary" with what they mastered, areas for improvement, and a final rating

Tone: %s

Context from resources:
%s

Remember: This is a TEST. Be thorough, fair, and provide constructive feedback!`, tone, contextBlock(contextText))
}
