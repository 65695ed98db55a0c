package store

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by store operations. Callers map these to
// HTTP status codes with errors.Is.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrUnknownMode      = errors.New("unknown conversation mode")
	ErrResourceNotFound = errors.New("resource not found")
)

// Sender roles for messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// Session is one persisted conversation. Sessions are created on the first
// message of a conversation and never mutated afterwards except for the
// summary refresh.
type Session struct {
	ID        string    `json:"id"` // UUID
	UserID    int64     `json:"user_id"`
	Mode      string    `json:"mode"` // "explain", "tutor" or "exam"
	Summary   *string   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is a Session annotated with the preview shown in the
// session list: the explicit summary if present, else the last message
// truncated.
type SessionSummary struct {
	ID      string    `json:"id"`
	Mode    string    `json:"mode"`
	Date    time.Time `json:"date"`
	Preview string    `json:"preview"`
}

// Media describes an attachment stored in the blob store.
type Media struct {
	URL  string `json:"media_url"`
	Type string `json:"media_type"`
	Size int64  `json:"media_size"`
}

// Message is one immutable turn within a session. Ordering within a session
// is by creation time, strictly increasing.
type Message struct {
	ID        string    `json:"id"` // UUID
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"` // "user" or "assistant"
	Content   string    `json:"content"`
	Media     *Media    `json:"media,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// Resource is a user-owned source document whose chunks feed retrieval.
type Resource struct {
	ID        string    `json:"id"` // UUID
	OwnerID   int64     `json:"owner_id"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ResourceChunk is one passage of a resource with its stored embedding.
type ResourceChunk struct {
	ID         int64     `json:"id"`
	ResourceID string    `json:"resource_id"`
	Text       string    `json:"chunk_text"`
	Embedding  []float32 `json:"-"`
}

// ScoredChunk is a retrieval hit: a chunk plus its similarity to the query.
type ScoredChunk struct {
	ResourceID string
	Text       string
	Similarity float32
}
