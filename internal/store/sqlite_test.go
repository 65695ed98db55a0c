package store

import (
	"errors"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *SQLiteStore) *User {
	t.Helper()
	user, err := s.CreateUser("test-user", "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func TestCreateSessionValidatesMode(t *testing.T) {
	s := newTestStore(t)
	user := newTestUser(t, s)

	session, err := s.CreateSession(user.ID, "tutor")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ID == "" || session.Mode != "tutor" {
		t.Fatalf("unexpected session: %+v", session)
	}

	if _, err := s.CreateSession(user.ID, "socratic"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	s := newTestStore(t)
	user := newTestUser(t, s)
	session, _ := s.CreateSession(user.ID, "explain")

	err := s.CreateMessage(&Message{SessionID: session.ID, Sender: SenderUser, Content: "   \t\n"})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent for whitespace content, got %v", err)
	}

	err = s.CreateMessage(&Message{SessionID: "no-such-session", Sender: SenderUser, Content: "hello"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMessageRoundTripAndOrdering(t *testing.T) {
	s := newTestStore(t)
	user := newTestUser(t, s)
	session, _ := s.CreateSession(user.ID, "explain")

	contents := []struct {
		sender, content string
	}{
		{SenderUser, "What is osmosis?"},
		{SenderAssistant, "Osmosis is the movement of water across a membrane."},
		{SenderUser, "Can you give an example?"},
		{SenderAssistant, "A raisin swelling in water."},
	}
	for _, c := range contents {
		if err := s.CreateMessage(&Message{SessionID: session.ID, Sender: c.sender, Content: c.content}); err != nil {
			t.Fatalf("CreateMessage(%q) failed: %v", c.content, err)
		}
	}

	// The last-N fetch runs descending internally but must return ascending.
	last2, err := s.GetLastNMessagesBySessionID(session.ID, 2)
	if err != nil {
		t.Fatalf("GetLastNMessagesBySessionID failed: %v", err)
	}
	if len(last2) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(last2))
	}
	if last2[0].Sender != SenderUser || last2[0].Content != "Can you give an example?" {
		t.Fatalf("unexpected first of last 2: %+v", last2[0])
	}
	if last2[1].Sender != SenderAssistant {
		t.Fatalf("unexpected second of last 2: %+v", last2[1])
	}

	all, err := s.GetMessagesBySessionID(session.ID, 100, 0)
	if err != nil {
		t.Fatalf("GetMessagesBySessionID failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatalf("messages out of order at index %d", i)
		}
	}
	for i, c := range contents {
		if all[i].Content != c.content {
			t.Fatalf("message %d: expected %q, got %q", i, c.content, all[i].Content)
		}
	}
}

func TestMessageMediaDescriptor(t *testing.T) {
	s := newTestStore(t)
	user := newTestUser(t, s)
	session, _ := s.CreateSession(user.ID, "explain")

	msg := &Message{
		SessionID: session.ID,
		Sender:    SenderUser,
		Content:   "see attachment",
		Media:     &Media{URL: "/media/1/r1/notes.pdf", Type: "application/pdf", Size: 1234},
	}
	if err := s.CreateMessage(msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	got, err := s.GetMessagesBySessionID(session.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetMessagesBySessionID failed: %v", err)
	}
	if got[0].Media == nil || got[0].Media.URL != msg.Media.URL || got[0].Media.Size != 1234 {
		t.Fatalf("media descriptor not round-tripped: %+v", got[0].Media)
	}
}

func TestSessionPreviews(t *testing.T) {
	s := newTestStore(t)
	user := newTestUser(t, s)

	empty, _ := s.CreateSession(user.ID, "explain")
	_ = empty

	long, _ := s.CreateSession(user.ID, "tutor")
	longContent := strings.Repeat("x", 100)
	if err := s.CreateMessage(&Message{SessionID: long.ID, Sender: SenderUser, Content: longContent}); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	summarized, _ := s.CreateSession(user.ID, "exam")
	if err := s.CreateMessage(&Message{SessionID: summarized.ID, Sender: SenderUser, Content: "irrelevant"}); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if err := s.UpdateSessionSummary(summarized.ID, "Osmosis basics"); err != nil {
		t.Fatalf("UpdateSessionSummary failed: %v", err)
	}

	sessions, err := s.GetSessionsWithPreview(user.ID)
	if err != nil {
		t.Fatalf("GetSessionsWithPreview failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	byID := map[string]SessionSummary{}
	for _, sum := range sessions {
		byID[sum.ID] = sum
	}

	if byID[empty.ID].Preview != "New conversation" {
		t.Errorf("empty session preview: got %q", byID[empty.ID].Preview)
	}
	want := strings.Repeat("x", 60) + "..."
	if byID[long.ID].Preview != want {
		t.Errorf("long message preview: got %q", byID[long.ID].Preview)
	}
	if byID[summarized.ID].Preview != "Osmosis basics" {
		t.Errorf("summary preview: got %q", byID[summarized.ID].Preview)
	}

	// Most recent first.
	if sessions[0].ID != summarized.ID || sessions[2].ID != empty.ID {
		t.Errorf("sessions not ordered most recent first: %v", sessions)
	}
}

func TestUpdateSessionSummaryUnknownSession(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateSessionSummary("nope", "summary"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func seedChunks(t *testing.T, s *SQLiteStore, resourceID string, embeddings [][]float32) {
	t.Helper()
	for i, emb := range embeddings {
		chunk := &ResourceChunk{ResourceID: resourceID, Text: "chunk " + string(rune('A'+i)), Embedding: emb}
		if err := s.CreateResourceChunk(chunk); err != nil {
			t.Fatalf("CreateResourceChunk failed: %v", err)
		}
	}
}

func TestSearchChunks(t *testing.T) {
	s := newTestStore(t)
	owner := newTestUser(t, s)
	other, _ := s.CreateUser("other-user", "hash")

	mine, err := s.CreateResource(owner.ID, "notes.txt")
	if err != nil {
		t.Fatalf("CreateResource failed: %v", err)
	}
	theirs, _ := s.CreateResource(other.ID, "secret.txt")

	// Query along the first axis: similarities are 1.0, ~0.6 and 0.0.
	seedChunks(t, s, mine.ID, [][]float32{
		{1, 0, 0},
		{0.6, 0.8, 0},
		{0, 1, 0},
	})
	seedChunks(t, s, theirs.ID, [][]float32{{1, 0, 0}})

	query := []float32{1, 0, 0}

	hits, err := s.SearchChunks(owner.ID, []string{mine.ID, theirs.ID}, query, 0.5, 10)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %+v", len(hits), hits)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Errorf("hits not ordered best first: %+v", hits)
	}
	for _, h := range hits {
		if h.ResourceID != mine.ID {
			t.Errorf("hit from foreign resource: %+v", h)
		}
	}

	// topK truncation.
	hits, err = s.SearchChunks(owner.ID, []string{mine.ID}, query, 0.0, 1)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Similarity < 0.99 {
		t.Fatalf("expected single best hit, got %+v", hits)
	}

	// Nothing above threshold is an empty result, not an error.
	hits, err = s.SearchChunks(owner.ID, []string{mine.ID}, []float32{0, 0, 1}, 0.75, 10)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}

	// No candidate resources short-circuits.
	hits, err = s.SearchChunks(owner.ID, nil, query, 0.0, 10)
	if err != nil || hits != nil {
		t.Fatalf("expected nil result for empty candidates, got %v, %v", hits, err)
	}

	// Dimensionality mismatch must fail fast.
	if _, err := s.SearchChunks(owner.ID, []string{mine.ID}, []float32{1, 0}, 0.0, 10); err == nil {
		t.Fatal("expected error for mismatched query dimensionality")
	}
}
