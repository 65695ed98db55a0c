package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chitchat-labs/backend/internal/store"
)

const (
	// safetyFallbackMessage replaces the whole reply when the provider
	// refuses to continue for content-policy reasons. It is streamed to the
	// client as if it were model output and persisted verbatim.
	safetyFallbackMessage = "I apologize, but I can't respond to that. Could you rephrase your question?"

	// emptyReplyMessage covers the rare case of a stream that ends without
	// producing any text.
	emptyReplyMessage = "I'm sorry, I couldn't generate a response at this time. Please try again."
)

// ErrForbidden marks an ownership mismatch between the requesting user and
// a session.
var ErrForbidden = errors.New("session belongs to another user")

// EventSink is the push channel back to the client. Implementations report
// write failures (client gone) through the returned error; the coordinator
// then stops forwarding but keeps draining the upstream.
type EventSink interface {
	SessionCreated(sessionID string) error
	Fragment(content string) error
}

// SessionStore is the store surface the conversation flow depends on.
// *store.SQLiteStore satisfies it.
type SessionStore interface {
	CreateSession(userID int64, mode string) (*store.Session, error)
	GetSessionByID(sessionID string) (*store.Session, error)
	GetSessionsWithPreview(userID int64) ([]store.SessionSummary, error)
	CreateMessage(msg *store.Message) error
	GetMessagesBySessionID(sessionID string, limit, offset int) ([]store.Message, error)
	GetLastNMessagesBySessionID(sessionID string, n int) ([]store.Message, error)
	UpdateSessionSummary(sessionID, summary string) error
}

// ChatRequest carries one inbound chat message.
type ChatRequest struct {
	UserID             int64
	SessionID          string // empty means create a new session
	Input              string
	Mode               string
	Tone               string
	ContextResourceIDs []string
	SeedPrompt         string
	Media              *store.Media
}

// streamPhase enumerates the states of one streaming exchange.
type streamPhase int

const (
	phaseResolvingSession streamPhase = iota
	phaseLoadingContext               // history fetch and retrieval, concurrent
	phaseGenerating
	phaseStreaming
	phasePersisting
	phaseDone
	phaseErrored
	phaseSafetyStopped
)

func (p streamPhase) String() string {
	switch p {
	case phaseResolvingSession:
		return "resolving_session"
	case phaseLoadingContext:
		return "loading_context"
	case phaseGenerating:
		return "generating"
	case phaseStreaming:
		return "streaming"
	case phasePersisting:
		return "persisting"
	case phaseDone:
		return "done"
	case phaseErrored:
		return "errored"
	case phaseSafetyStopped:
		return "safety_stopped"
	default:
		return "unknown"
	}
}

// streamCoordinator drives one exchange through its phases. Errors returned
// from run happened before any byte reached the client and surface as
// synchronous HTTP errors; once streaming has begun every failure is handled
// internally.
type streamCoordinator struct {
	svc  *ChatService
	req  ChatRequest
	sink EventSink

	phase     streamPhase
	session   *store.Session
	created   bool
	sinkAlive bool
}

// StreamMessage conducts a full exchange: resolve the session, load history
// and retrieved context, stream the model reply to the sink, then persist
// both turns best-effort.
func (s *ChatService) StreamMessage(ctx context.Context, req ChatRequest, sink EventSink) error {
	if strings.TrimSpace(req.Input) == "" {
		return store.ErrEmptyContent
	}
	c := &streamCoordinator{svc: s, req: req, sink: sink, sinkAlive: true}
	return c.run(ctx)
}

func (c *streamCoordinator) run(ctx context.Context) error {
	if err := c.resolveSession(); err != nil {
		c.phase = phaseErrored
		return err
	}

	history, retrieval, err := c.loadContext(ctx)
	if err != nil {
		c.phase = phaseErrored
		return err
	}

	c.phase = phaseGenerating
	prompt := ComposePrompt(ParseMode(c.session.Mode), c.req.Tone, history, retrieval, c.req.Input)
	stream, err := c.svc.generator.StreamReply(ctx, prompt)
	if err != nil {
		c.phase = phaseErrored
		return fmt.Errorf("failed to initiate generation: %w", err)
	}

	// The first pull happens before the sink is opened so initiation
	// failures still surface as a plain error response.
	first, err := stream.Next()
	var finished, safetyStopped bool
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		finished = true
	case errors.Is(err, ErrContentBlocked):
		safetyStopped = true
	default:
		c.phase = phaseErrored
		return fmt.Errorf("generation failed before streaming: %w", err)
	}

	c.phase = phaseStreaming
	if c.created {
		if sinkErr := c.sink.SessionCreated(c.session.ID); sinkErr != nil {
			c.sinkAlive = false
		}
	}

	var reply strings.Builder
	if !finished && !safetyStopped && first != "" {
		reply.WriteString(first)
		c.forward(first)
	}

	for !finished && !safetyStopped {
		fragment, err := stream.Next()
		switch {
		case err == nil:
			if fragment != "" {
				reply.WriteString(fragment)
				c.forward(fragment)
			}
		case errors.Is(err, io.EOF):
			finished = true
		case errors.Is(err, ErrContentBlocked):
			safetyStopped = true
		case ctx.Err() != nil:
			// Client disconnected and the request context died with it.
			// Keep whatever accumulated so partial memory survives.
			slog.Info("client disconnected mid-stream", "session", c.session.ID)
			finished = true
		default:
			// Non-safety upstream failure mid-stream: the channel closes
			// early and nothing is persisted for this exchange.
			c.phase = phaseErrored
			slog.Error("stream aborted mid-generation", "session", c.session.ID, "error", err)
			return nil
		}
	}

	if safetyStopped {
		c.phase = phaseSafetyStopped
		slog.Warn("response blocked by safety filter, substituting fallback", "session", c.session.ID)
		reply.Reset()
		reply.WriteString(safetyFallbackMessage)
		c.forward(safetyFallbackMessage)
	} else if reply.Len() == 0 {
		c.forward(emptyReplyMessage)
		reply.WriteString(emptyReplyMessage)
	}

	c.persist(reply.String())
	c.phase = phaseDone
	return nil
}

// resolveSession creates a session when none was supplied (storing the seed
// greeting, if any, as the opening assistant turn) or verifies ownership of
// an existing one.
func (c *streamCoordinator) resolveSession() error {
	c.phase = phaseResolvingSession

	if c.req.SessionID == "" {
		session, err := c.svc.store.CreateSession(c.req.UserID, string(ParseMode(c.req.Mode)))
		if err != nil {
			return fmt.Errorf("failed to create chat session: %w", err)
		}
		c.session = session
		c.created = true

		if seed := strings.TrimSpace(c.req.SeedPrompt); seed != "" {
			seedMsg := &store.Message{SessionID: session.ID, Sender: store.SenderAssistant, Content: seed}
			if err := c.svc.store.CreateMessage(seedMsg); err != nil {
				// A lost seed only costs the opening greeting, not the session.
				slog.Warn("failed to save seed prompt", "session", session.ID, "error", err)
			}
		}
		return nil
	}

	session, err := c.svc.store.GetSessionByID(c.req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("%w: %s", store.ErrSessionNotFound, c.req.SessionID)
	}
	if session.UserID != c.req.UserID {
		return ErrForbidden
	}
	c.session = session
	return nil
}

// loadContext fetches the history window and the retrieved context. The two
// lookups have no ordering dependency, so retrieval runs concurrently with
// the history fetch.
func (c *streamCoordinator) loadContext(ctx context.Context) ([]store.Message, Retrieval, error) {
	c.phase = phaseLoadingContext

	retrievalCh := make(chan Retrieval, 1)
	go func() {
		retrievalCh <- c.svc.retriever.Retrieve(ctx, c.req.Input, c.req.UserID, c.req.ContextResourceIDs)
	}()

	history, err := c.svc.store.GetLastNMessagesBySessionID(c.session.ID, c.svc.historyWindow)
	if err != nil {
		return nil, Retrieval{}, fmt.Errorf("failed to fetch chat history: %w", err)
	}

	return history, <-retrievalCh, nil
}

// forward pushes one fragment to the client unless the sink already failed.
func (c *streamCoordinator) forward(fragment string) {
	if !c.sinkAlive {
		return
	}
	if err := c.sink.Fragment(fragment); err != nil {
		c.sinkAlive = false
	}
}

// persist appends the user turn and the accumulated assistant turn as two
// independent best-effort writes. The client has already been served, so
// failures are logged as a structured high-severity event instead of being
// surfaced.
func (c *streamCoordinator) persist(reply string) {
	c.phase = phasePersisting

	userMsg := &store.Message{
		SessionID: c.session.ID,
		Sender:    store.SenderUser,
		Content:   c.req.Input,
		Media:     c.req.Media,
	}
	if err := c.svc.store.CreateMessage(userMsg); err != nil {
		logMemoryLoss(c.session.ID, store.SenderUser, err)
	}

	assistantMsg := &store.Message{
		SessionID: c.session.ID,
		Sender:    store.SenderAssistant,
		Content:   reply,
	}
	if err := c.svc.store.CreateMessage(assistantMsg); err != nil {
		logMemoryLoss(c.session.ID, store.SenderAssistant, err)
	}

	if c.session.Summary == nil || *c.session.Summary == "" {
		go c.svc.refreshSummary(c.session.ID, c.req.Input)
	}
}

// logMemoryLoss is the operational signal that a served response was not
// durably recorded. Monitoring keys on the "memory not persisted" event.
func logMemoryLoss(sessionID, sender string, err error) {
	slog.Error("memory not persisted",
		"event", "memory_not_persisted",
		"session", sessionID,
		"sender", sender,
		"error", err,
	)
}
