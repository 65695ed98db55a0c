package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const ingestChunkSize = 800 // characters per chunk

// chunkText splits normalized text into fixed-size passages.
func chunkText(text string, size int) []string {
	normalized := strings.Join(strings.Fields(text), " ")
	runes := []rune(normalized)

	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// IngestResourceFromFile reads a text file, splits it into chunks, embeds
// each chunk and stores the result as a new resource owned by ownerID.
// Returns the new resource ID and the number of chunks stored. Chunks whose
// embedding fails are skipped, not fatal.
func (s *SQLiteStore) IngestResourceFromFile(ownerID int64, filePath string, embedder func(string) ([]float32, error)) (string, int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read data file %s: %w", filePath, err)
	}

	rawChunks := chunkText(string(contentBytes), ingestChunkSize)
	if len(rawChunks) == 0 {
		return "", 0, fmt.Errorf("no text content found in %s", filePath)
	}

	resource, err := s.CreateResource(ownerID, filepath.Base(filePath))
	if err != nil {
		return "", 0, err
	}

	log.Printf("Split %s into %d chunks. Now embedding (this may take a while)...", filePath, len(rawChunks))

	count := 0

	ticker := time.NewTicker(40 * time.Millisecond) // delay to not hit rate limit (1500/min)
	defer ticker.Stop()

	for i, rawChunk := range rawChunks {
		<-ticker.C

		embedding, err := embedder(rawChunk)
		if err != nil {
			log.Printf("Failed to generate embedding for chunk %d (\"%.50s...\"): %v. Skipping.", i+1, rawChunk, err)
			continue
		}

		chunk := ResourceChunk{
			ResourceID: resource.ID,
			Text:       rawChunk,
			Embedding:  embedding,
		}
		if err := s.CreateResourceChunk(&chunk); err != nil {
			log.Printf("Failed to store chunk %d: %v. Skipping.", i+1, err)
			continue
		}
		count++
		if count%10 == 0 || count == len(rawChunks) {
			log.Printf("Ingested %d/%d chunks...", count, len(rawChunks))
		}
	}
	log.Printf("Successfully ingested %d chunks into resource %s.", count, resource.ID)
	return resource.ID, count, nil
}
