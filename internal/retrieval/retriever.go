package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Hit is one semantic search result.
type Hit struct {
	FileID     string   `json:"fileId"`
	ChunkIndex int      `json:"chunkIndex"`
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	Score      float32  `json:"score"`
}

// Retriever chunks and embeds file content into a VectorStore and answers
// semantic queries against it.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	size     int
	overlap  int
}

// NewRetriever creates a Retriever. size and overlap configure Chunk.
func NewRetriever(embedder *Embedder, store VectorStore, size, overlap int) *Retriever {
	return &Retriever{embedder: embedder, store: store, size: size, overlap: overlap}
}

// IndexFile replaces the stored chunks of a file with fresh embeddings of
// text. Returns the number of chunks written.
func (r *Retriever) IndexFile(ctx context.Context, fileID, text string, categories []string) (int, error) {
	chunks := Chunk(text, r.size, r.overlap)
	if len(chunks) == 0 {
		_, err := r.store.DeleteByFile(ctx, fileID)
		return 0, err
	}

	vecs, err := r.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:         uuid.NewString(),
			FileID:     fileID,
			ChunkIndex: i,
			TextChunk:  c,
			Embedding:  vecs[i],
			Categories: categories,
			CreatedAt:  now,
		}
	}

	if _, err := r.store.DeleteByFile(ctx, fileID); err != nil {
		return 0, err
	}
	if err := r.store.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("storing chunks for %s: %w", fileID, err)
	}
	return len(records), nil
}

// Search embeds the query and returns the top-K most similar chunks.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.store.Search(ctx, vec, topK, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(scored))
	for i, s := range scored {
		hits[i] = Hit{
			FileID:     s.FileID,
			ChunkIndex: s.ChunkIndex,
			Text:       s.TextChunk,
			Categories: s.Categories,
			Score:      s.Score,
		}
	}
	return hits, nil
}

// FileVector returns the mean of a file's chunk embeddings, or nil when the
// file has not been embedded.
func (r *Retriever) FileVector(ctx context.Context, fileID string) ([]float32, error) {
	records, err := r.store.ByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return MeanVector(records), nil
}

// FileVectors returns the mean embedding of every embedded file.
func (r *Retriever) FileVectors(ctx context.Context) (map[string][]float32, error) {
	ids, err := r.store.FileIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		v, err := r.FileVector(ctx, id)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[id] = v
		}
	}
	return out, nil
}

// Chunks returns the stored chunks of a file.
func (r *Retriever) Chunks(ctx context.Context, fileID string) ([]Record, error) {
	return r.store.ByFile(ctx, fileID)
}

// Retag updates the categories reported on a file's search hits.
func (r *Retriever) Retag(ctx context.Context, fileID string, categories []string) error {
	return r.store.SetCategories(ctx, fileID, categories)
}

// Forget removes a file's chunks.
func (r *Retriever) Forget(ctx context.Context, fileID string) error {
	_, err := r.store.DeleteByFile(ctx, fileID)
	return err
}

// MeanVector averages the embeddings of records. Records whose dimension
// differs from the first are skipped.
func MeanVector(records []Record) []float32 {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Embedding)
	if dim == 0 {
		return nil
	}
	sum := make([]float64, dim)
	n := 0
	for _, r := range records {
		if len(r.Embedding) != dim {
			continue
		}
		for i, f := range r.Embedding {
			sum[i] += float64(f)
		}
		n++
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}
