package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/chitchat-labs/backend/internal/config"
)

const (
	chatModelName      = "gemini-2.0-flash"
	embeddingModelName = "text-embedding-004"

	summarySystemInstruction = "You are a helpful assistant that writes very short summaries of chat conversations. " +
		"The summary should be 3-7 words maximum. Just return the summary itself, nothing else."
)

// ErrContentBlocked marks a content-policy refusal from the generation
// provider. The coordinator substitutes a fallback message instead of
// failing the stream.
var ErrContentBlocked = errors.New("response blocked by content safety filter")

// Embedder converts free text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator drives the language model: an incremental reply stream for
// conversations, and a one-shot completion for auxiliary text (greetings,
// session summaries).
type Generator interface {
	StreamReply(ctx context.Context, p Prompt) (ReplyStream, error)
	GenerateOnce(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// ReplyStream yields generated text fragments in arrival order. Next returns
// io.EOF at end of stream and ErrContentBlocked on a safety interruption.
type ReplyStream interface {
	Next() (string, error)
}

// LLMService is the Gemini-backed implementation of Embedder and Generator.
type LLMService struct {
	client        *genai.Client
	embeddingDims int
}

func NewLLMService() *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}

	return &LLMService{
		client:        client,
		embeddingDims: config.AppConfig.EmbeddingDimensions,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

// Embed returns the embedding vector for the given text. A dimensionality
// mismatch with the configured corpus is an error, not a silent degrade.
func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(embeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	if s.embeddingDims > 0 && len(res.Embedding.Values) != s.embeddingDims {
		return nil, fmt.Errorf("embedding dimensionality mismatch: got %d, want %d", len(res.Embedding.Values), s.embeddingDims)
	}
	return res.Embedding.Values, nil
}

func (s *LLMService) chatModel() *genai.GenerativeModel {
	model := s.client.GenerativeModel(chatModelName)
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
	}
	model.SetTemperature(0.7)
	model.SetTopK(40)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(2048)
	return model
}

// StreamReply opens an incremental completion for the composed prompt. The
// history is passed as chat history; the live user input is sent as the
// trailing message.
func (s *LLMService) StreamReply(ctx context.Context, p Prompt) (ReplyStream, error) {
	model := s.chatModel()
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(p.System)},
	}

	chatSession := model.StartChat()
	chatSession.History = p.History

	iter := chatSession.SendMessageStream(ctx, genai.Text(p.Input))
	return &geminiStream{iter: iter}, nil
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (g *geminiStream) Next() (string, error) {
	resp, err := g.iter.Next()
	if err == iterator.Done {
		return "", io.EOF
	}
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", ErrContentBlocked
		}
		return "", fmt.Errorf("gemini stream failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", nil
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	return text.String(), nil
}

// GenerateOnce runs a short non-streaming completion, used for greetings and
// session summaries.
func (s *LLMService) GenerateOnce(ctx context.Context, systemInstruction, prompt string) (string, error) {
	model := s.client.GenerativeModel(chatModelName)
	if systemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemInstruction)},
		}
	}
	model.SetTemperature(0.3)
	model.SetMaxOutputTokens(256)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned an empty response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini returned a non-text response")
	}
	return strings.TrimSpace(text.String()), nil
}
