package core

import (
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitchat-labs/backend/internal/store"
)

func contentText(t *testing.T, c *genai.Content) string {
	t.Helper()
	require.Len(t, c.Parts, 1)
	text, ok := c.Parts[0].(genai.Text)
	require.True(t, ok, "part is not text: %T", c.Parts[0])
	return string(text)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeTutor, ParseMode("tutor"))
	assert.Equal(t, ModeExam, ParseMode("  EXAM "))
	assert.Equal(t, ModeExplain, ParseMode("explain"))
	assert.Equal(t, ModeExplain, ParseMode(""))
	assert.Equal(t, ModeExplain, ParseMode("socratic"))
}

func TestComposePromptRoleMapping(t *testing.T) {
	history := []store.Message{
		{Sender: store.SenderUser, Content: "What is a volcano?"},
		{Sender: store.SenderAssistant, Content: "A rupture in the crust."},
	}

	prompt := ComposePrompt(ModeExplain, "", history, Retrieval{}, "Tell me more")

	require.Len(t, prompt.History, 2)
	assert.Equal(t, "user", prompt.History[0].Role)
	assert.Equal(t, "What is a volcano?", contentText(t, prompt.History[0]))
	assert.Equal(t, "model", prompt.History[1].Role)
	assert.Equal(t, "A rupture in the crust.", contentText(t, prompt.History[1]))

	// The live input rides separately, never inside the history.
	assert.Equal(t, "Tell me more", prompt.Input)
	for _, c := range prompt.History {
		assert.NotEqual(t, "Tell me more", contentText(t, c))
	}
}

func TestComposePromptRepairsSeededHistory(t *testing.T) {
	seeded := []store.Message{
		{Sender: store.SenderAssistant, Content: "Let's explore volcanoes!"},
		{Sender: store.SenderUser, Content: "Sounds good"},
	}

	prompt := ComposePrompt(ModeExplain, "", seeded, Retrieval{}, "go on")

	require.Len(t, prompt.History, 3)
	assert.Equal(t, "user", prompt.History[0].Role)
	assert.Equal(t, historyRepairPlaceholder, contentText(t, prompt.History[0]))
	assert.Equal(t, "model", prompt.History[1].Role)
	assert.Equal(t, "Let's explore volcanoes!", contentText(t, prompt.History[1]))
}

func TestComposePromptRepairNotDuplicated(t *testing.T) {
	// A history that already opens with a user turn, placeholder or not, is
	// left alone however many times it is recomposed.
	repaired := []store.Message{
		{Sender: store.SenderUser, Content: historyRepairPlaceholder},
		{Sender: store.SenderAssistant, Content: "Let's explore volcanoes!"},
	}

	for i := 0; i < 3; i++ {
		prompt := ComposePrompt(ModeExplain, "", repaired, Retrieval{}, "go on")
		require.Len(t, prompt.History, 2)
		assert.Equal(t, "user", prompt.History[0].Role)
	}
}

func TestComposePromptEmptyHistory(t *testing.T) {
	prompt := ComposePrompt(ModeTutor, "", nil, Retrieval{}, "first message")
	assert.Empty(t, prompt.History)
	assert.Equal(t, "first message", prompt.Input)
}

func TestComposePromptModeTemplates(t *testing.T) {
	tests := []struct {
		mode     Mode
		fragment string
		tone     string
	}{
		{ModeExplain, "expert and engaging AI assistant", "casual"},
		{ModeTutor, "teaching mode", "patient and encouraging"},
		{ModeExam, "FINAL BOSS", "challenging but fair, with a gamified vibe"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			prompt := ComposePrompt(tt.mode, "", nil, Retrieval{}, "hi")
			assert.Contains(t, prompt.System, tt.fragment)
			assert.Contains(t, prompt.System, tt.tone)
		})
	}
}

func TestComposePromptToneOverride(t *testing.T) {
	prompt := ComposePrompt(ModeTutor, "brisk and formal", nil, Retrieval{}, "hi")
	assert.Contains(t, prompt.System, "brisk and formal")
	assert.NotContains(t, prompt.System, defaultTones[ModeTutor])
}

func TestComposePromptContextRendering(t *testing.T) {
	ok := Retrieval{Outcome: RetrievalOK, Chunks: []store.ScoredChunk{
		{Text: "Magma rises through fissures.", Similarity: 0.9},
	}}
	prompt := ComposePrompt(ModeExplain, "", nil, ok, "hi")
	assert.Contains(t, prompt.System, "Magma rises through fissures.")
	assert.Contains(t, prompt.System, `"""`)

	prompt = ComposePrompt(ModeExplain, "", nil, Retrieval{Outcome: RetrievalSkipped}, "hi")
	assert.Contains(t, prompt.System, "None provided.")

	prompt = ComposePrompt(ModeExplain, "", nil, Retrieval{Outcome: RetrievalEmpty}, "hi")
	assert.Contains(t, prompt.System, noContextMarker)

	prompt = ComposePrompt(ModeExplain, "", nil, Retrieval{Outcome: RetrievalFailed}, "hi")
	assert.Contains(t, prompt.System, contextErrorMarker)
}

func TestComposePromptUnknownModeFallsBack(t *testing.T) {
	prompt := ComposePrompt(Mode("socratic"), "", nil, Retrieval{}, "hi")
	assert.True(t, strings.Contains(prompt.System, "expert and engaging AI assistant"))
	assert.Contains(t, prompt.System, defaultTones[ModeExplain])
}
