package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chitchat-labs/backend/internal/store"
)

// RetrievalOutcome distinguishes the ways a retrieval can end. An empty
// result and an upstream failure degrade differently in the composed prompt,
// so the outcome is explicit rather than an error.
type RetrievalOutcome int

const (
	RetrievalSkipped RetrievalOutcome = iota // no candidate resources requested
	RetrievalOK
	RetrievalEmpty  // nothing met the similarity threshold
	RetrievalFailed // embedding or search error
)

// Retrieval is the outcome-tagged result of one context lookup. Chunks are
// ordered best similarity first, ties in insertion order.
type Retrieval struct {
	Outcome RetrievalOutcome
	Chunks  []store.ScoredChunk
}

// ContextText renders the retrieval for inclusion in a system instruction:
// numbered chunks, or an explicit marker for the empty and failed cases.
func (r Retrieval) ContextText() string {
	switch r.Outcome {
	case RetrievalOK:
		parts := make([]string, len(r.Chunks))
		for i, chunk := range r.Chunks {
			parts[i] = fmt.Sprintf("Chunk %d:\n%s", i+1, chunk.Text)
		}
		return strings.Join(parts, chunkSeparator)
	case RetrievalEmpty:
		return noContextMarker
	case RetrievalFailed:
		return contextErrorMarker
	default:
		return ""
	}
}

// ChunkSearcher is the similarity-search capability of the store.
type ChunkSearcher interface {
	SearchChunks(ownerID int64, resourceIDs []string, queryEmbedding []float32, threshold float32, topK int) ([]store.ScoredChunk, error)
}

// Retriever finds the passages most relevant to a query within a user's
// selected resources.
type Retriever struct {
	searcher  ChunkSearcher
	embedder  Embedder
	threshold float32
	topK      int
}

func NewRetriever(searcher ChunkSearcher, embedder Embedder, threshold float64, topK int) *Retriever {
	return &Retriever{
		searcher:  searcher,
		embedder:  embedder,
		threshold: float32(threshold),
		topK:      topK,
	}
}

// Retrieve embeds the query and searches the owner's candidate resources.
// It never returns an error: failures degrade to RetrievalFailed so the
// caller can continue in no-context mode.
func (r *Retriever) Retrieve(ctx context.Context, query string, ownerID int64, resourceIDs []string) Retrieval {
	if len(resourceIDs) == 0 {
		return Retrieval{Outcome: RetrievalSkipped}
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("context retrieval failed at embedding step", "owner", ownerID, "error", err)
		return Retrieval{Outcome: RetrievalFailed}
	}

	chunks, err := r.searcher.SearchChunks(ownerID, resourceIDs, queryEmbedding, r.threshold, r.topK)
	if err != nil {
		slog.Warn("context retrieval failed at search step", "owner", ownerID, "error", err)
		return Retrieval{Outcome: RetrievalFailed}
	}

	if len(chunks) == 0 {
		return Retrieval{Outcome: RetrievalEmpty}
	}
	return Retrieval{Outcome: RetrievalOK, Chunks: chunks}
}
