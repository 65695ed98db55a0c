package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/chitchat-labs/backend/internal/utils"
)

const previewLength = 60

var validModes = map[string]bool{"explain": true, "tutor": true, "exam": true}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        mode TEXT NOT NULL CHECK (mode IN ('explain', 'tutor', 'exam')),
        summary TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS chat_messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'assistant')),
        content TEXT NOT NULL,
        media_url TEXT,
        media_type TEXT,
        media_size INTEGER,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (session_id) REFERENCES chat_sessions (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_session_time
        ON chat_messages (session_id, created_at);

    CREATE TABLE IF NOT EXISTS resources (
        id TEXT PRIMARY KEY, -- UUID
        owner_id INTEGER NOT NULL,
        file_name TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (owner_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS resource_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        resource_id TEXT NOT NULL,
        chunk_text TEXT NOT NULL,
        embedding_json TEXT, -- JSON string of []float32
        FOREIGN KEY (resource_id) REFERENCES resources (id)
    );
    CREATE INDEX IF NOT EXISTS idx_chunks_resource ON resource_chunks (resource_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Session methods

// CreateSession inserts a fully initialized session or nothing at all.
func (s *SQLiteStore) CreateSession(userID int64, mode string) (*Session, error) {
	if !validModes[mode] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	sessionID := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec("INSERT INTO chat_sessions (id, user_id, mode, created_at) VALUES (?, ?, ?, ?)", sessionID, userID, mode, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return &Session{ID: sessionID, UserID: userID, Mode: mode, CreatedAt: now}, nil
}

// GetSessionByID returns (nil, nil) when the session does not exist.
// Ownership is checked by the caller so unknown-id and wrong-owner cases
// stay distinguishable.
func (s *SQLiteStore) GetSessionByID(sessionID string) (*Session, error) {
	var session Session
	var summary sql.NullString
	err := s.db.QueryRow("SELECT id, user_id, mode, summary, created_at FROM chat_sessions WHERE id = ?", sessionID).Scan(&session.ID, &session.UserID, &session.Mode, &summary, &session.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if summary.Valid {
		session.Summary = &summary.String
	}
	return &session, nil
}

// GetSessionsWithPreview lists a user's sessions, most recent first, each
// annotated with its preview: the stored summary if present, else the last
// message truncated to the preview length.
func (s *SQLiteStore) GetSessionsWithPreview(userID int64) ([]SessionSummary, error) {
	query := `
        SELECT s.id, s.mode, s.created_at, s.summary,
            (SELECT m.content FROM chat_messages m
             WHERE m.session_id = s.id
             ORDER BY m.created_at DESC, m.rowid DESC LIMIT 1)
        FROM chat_sessions s
        WHERE s.user_id = ?
        ORDER BY s.created_at DESC
    `
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var summary, lastContent sql.NullString
		if err := rows.Scan(&sum.ID, &sum.Mode, &sum.Date, &summary, &lastContent); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		switch {
		case summary.Valid && summary.String != "":
			sum.Preview = summary.String
		case lastContent.Valid:
			sum.Preview = truncatePreview(lastContent.String)
		default:
			sum.Preview = "New conversation"
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}

func (s *SQLiteStore) UpdateSessionSummary(sessionID, summary string) error {
	res, err := s.db.Exec("UPDATE chat_sessions SET summary = ? WHERE id = ?", summary, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session summary: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Message methods

// CreateMessage appends one immutable turn to a session. The message ID and
// timestamp are assigned here.
func (s *SQLiteStore) CreateMessage(msg *Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return ErrEmptyContent
	}

	var exists int
	if err := s.db.QueryRow("SELECT 1 FROM chat_sessions WHERE id = ?", msg.SessionID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, msg.SessionID)
		}
		return fmt.Errorf("failed to verify session: %w", err)
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()

	var mediaURL, mediaType sql.NullString
	var mediaSize sql.NullInt64
	if msg.Media != nil {
		mediaURL = sql.NullString{String: msg.Media.URL, Valid: true}
		mediaType = sql.NullString{String: msg.Media.Type, Valid: true}
		mediaSize = sql.NullInt64{Int64: msg.Media.Size, Valid: true}
	}

	_, err := s.db.Exec(
		"INSERT INTO chat_messages (id, session_id, sender, content, media_url, media_type, media_size, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Sender, msg.Content, mediaURL, mediaType, mediaSize, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var msg Message
		var mediaURL, mediaType sql.NullString
		var mediaSize sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Content, &mediaURL, &mediaType, &mediaSize, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if mediaURL.Valid {
			msg.Media = &Media{URL: mediaURL.String, Type: mediaType.String, Size: mediaSize.Int64}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) GetMessagesBySessionID(sessionID string, limit, offset int) ([]Message, error) {
	query := `
        SELECT id, session_id, sender, content, media_url, media_type, media_size, created_at
        FROM chat_messages
        WHERE session_id = ?
        ORDER BY created_at ASC, rowid ASC
        LIMIT ? OFFSET ?
    `
	rows, err := s.db.Query(query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetLastNMessagesBySessionID returns at most n of the most recent messages,
// oldest first. The fetch runs descending for limit efficiency and the rows
// are reversed before returning.
func (s *SQLiteStore) GetLastNMessagesBySessionID(sessionID string, n int) ([]Message, error) {
	query := `
        SELECT id, session_id, sender, content, media_url, media_type, media_size, created_at
        FROM chat_messages
        WHERE session_id = ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?
    `
	rows, err := s.db.Query(query, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Resource and chunk methods (RAG corpus)

func (s *SQLiteStore) CreateResource(ownerID int64, fileName string) (*Resource, error) {
	resource := &Resource{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		FileName:  fileName,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec("INSERT INTO resources (id, owner_id, file_name, created_at) VALUES (?, ?, ?, ?)",
		resource.ID, resource.OwnerID, resource.FileName, resource.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert resource: %w", err)
	}
	return resource, nil
}

func (s *SQLiteStore) CreateResourceChunk(chunk *ResourceChunk) error {
	embeddingBytes, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	res, err := s.db.Exec("INSERT INTO resource_chunks (resource_id, chunk_text, embedding_json) VALUES (?, ?, ?)",
		chunk.ResourceID, chunk.Text, string(embeddingBytes))
	if err != nil {
		return fmt.Errorf("failed to insert resource chunk: %w", err)
	}
	chunk.ID, _ = res.LastInsertId()
	return nil
}

// SearchChunks scores every chunk belonging to the owner's candidate
// resources against the query embedding and returns the best matches above
// the threshold, best first. Ties keep insertion order (the rows arrive
// ordered by id and the sort is stable). A dimensionality mismatch between
// the query and a stored embedding fails the whole search rather than
// silently skipping rows.
func (s *SQLiteStore) SearchChunks(ownerID int64, resourceIDs []string, queryEmbedding []float32, threshold float32, topK int) ([]ScoredChunk, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(resourceIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
        SELECT c.resource_id, c.chunk_text, c.embedding_json
        FROM resource_chunks c
        JOIN resources r ON r.id = c.resource_id
        WHERE r.owner_id = ? AND c.resource_id IN (%s)
        ORDER BY c.id ASC
    `, placeholders)

	args := make([]interface{}, 0, len(resourceIDs)+1)
	args = append(args, ownerID)
	for _, id := range resourceIDs {
		args = append(args, id)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		var resourceID, text, embeddingJSON string
		if err := rows.Scan(&resourceID, &text, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		var embedding []float32
		if embeddingJSON == "" {
			log.Printf("Warning: empty embedding for a chunk of resource %s, skipping", resourceID)
			continue
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk embedding: %w", err)
		}

		similarity, err := utils.CosineSimilarity(queryEmbedding, embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk embedding incompatible with query: %w", err)
		}
		if similarity >= threshold {
			scored = append(scored, ScoredChunk{ResourceID: resourceID, Text: text, Similarity: similarity})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable sort keeps insertion order for equal similarities.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
