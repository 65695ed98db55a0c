package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chitchat-labs/backend/internal/cache"
	"github.com/chitchat-labs/backend/internal/store"
)

const greetingCacheTTL = time.Minute

// ChatService owns the conversational flow: streaming exchanges, session
// listing, message history, proactive greetings and summary refresh.
type ChatService struct {
	store         SessionStore
	users         UserStore
	generator     Generator
	retriever     *Retriever
	greetingCache *cache.TTLCache
	historyWindow int
}

// UserStore is the identity surface the API layer needs.
type UserStore interface {
	GetUserByExternalID(externalUserID string) (*store.User, error)
	CreateUser(externalUserID, passwordHash string) (*store.User, error)
}

func NewChatService(st SessionStore, users UserStore, generator Generator, retriever *Retriever, historyWindow int) *ChatService {
	return &ChatService{
		store:         st,
		users:         users,
		generator:     generator,
		retriever:     retriever,
		greetingCache: cache.New(greetingCacheTTL),
		historyWindow: historyWindow,
	}
}

// User passthroughs for the API layer.

func (s *ChatService) GetUserByExternalID(externalUserID string) (*store.User, error) {
	return s.users.GetUserByExternalID(externalUserID)
}

func (s *ChatService) CreateUser(externalUserID, passwordHash string) (*store.User, error) {
	return s.users.CreateUser(externalUserID, passwordHash)
}

// ListSessions returns the user's sessions, most recent first, with previews.
func (s *ChatService) ListSessions(userID int64) ([]store.SessionSummary, error) {
	return s.store.GetSessionsWithPreview(userID)
}

// SessionMessages returns every message of a session in chronological order.
// An unknown id is ErrSessionNotFound; a session owned by another user is
// ErrForbidden.
func (s *ChatService) SessionMessages(sessionID string, userID int64) ([]store.Message, error) {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessionID)
	}
	if session.UserID != userID {
		return nil, ErrForbidden
	}

	messages, err := s.store.GetMessagesBySessionID(sessionID, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session messages: %w", err)
	}
	return messages, nil
}

const greetingSystemInstruction = "You are a proactive, friendly AI assistant in ChitChat. " +
	"Generate warm, intelligent greetings that make the user feel understood and eager to engage. " +
	"Be concise: 2-3 sentences max."

// Greeting produces a proactive opening message for a topic. Responses are
// served from the process-wide TTL cache when fresh; the cache is purely
// advisory and a cold entry just regenerates.
func (s *ChatService) Greeting(ctx context.Context, userID int64, topic string) (greeting string, cached bool, err error) {
	if topic == "" {
		topic = "general"
	}
	cacheKey := fmt.Sprintf("greeting-%d-%s", userID, topic)
	if hit, ok := s.greetingCache.Get(cacheKey); ok {
		return hit, true, nil
	}

	prompt := fmt.Sprintf("Generate an engaging greeting about the topic %q that acknowledges the user naturally and offers to help or dive deeper.", topic)
	greeting, err = s.generator.GenerateOnce(ctx, greetingSystemInstruction, prompt)
	if err != nil {
		return "", false, fmt.Errorf("failed to generate greeting: %w", err)
	}

	s.greetingCache.Set(cacheKey, greeting)
	return greeting, false, nil
}

// refreshSummary generates and saves a short session summary. It runs
// detached from the request that triggered it; a failure costs nothing but
// the preview quality.
func (s *ChatService) refreshSummary(sessionID, basisContent string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prompt := fmt.Sprintf("Write a very short summary (3-7 words maximum) for a conversation that starts with or is about: %q.", basisContent)
	summary, err := s.generator.GenerateOnce(ctx, summarySystemInstruction, prompt)
	if err != nil {
		slog.Warn("failed to generate session summary", "session", sessionID, "error", err)
		return
	}
	summary = strings.Trim(summary, "\"'\n\r\t .")
	if summary == "" {
		return
	}

	if err := s.store.UpdateSessionSummary(sessionID, summary); err != nil {
		slog.Warn("failed to save session summary", "session", sessionID, "error", err)
	}
}
