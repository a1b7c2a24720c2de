package retrieval

import (
	"context"
	"time"
)

// VectorStore holds the chunk embeddings of discovered files.
type VectorStore interface {
	// Insert adds records.
	Insert(ctx context.Context, records []Record) error

	// Search returns the top-K records most similar to vector. When fileIDs
	// is non-empty only chunks of those files are considered.
	Search(ctx context.Context, vector []float32, topK int, fileIDs []string) ([]ScoredRecord, error)

	// ByFile returns a file's chunks ordered by chunk index.
	ByFile(ctx context.Context, fileID string) ([]Record, error)

	// DeleteByFile removes every chunk of a file and returns how many were removed.
	DeleteByFile(ctx context.Context, fileID string) (int, error)

	// SetCategories replaces the category names stored with a file's chunks.
	SetCategories(ctx context.Context, fileID string, categories []string) error

	// FileIDs returns the ids of files that have at least one chunk.
	FileIDs(ctx context.Context) ([]string, error)

	Count(ctx context.Context) (int, error)
}

// Record is one embedded chunk of a file.
type Record struct {
	ID         string
	FileID     string
	ChunkIndex int
	TextChunk  string
	Embedding  []float32
	Categories []string
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a cosine similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
