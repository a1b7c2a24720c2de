package export

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/kcons/kc/internal/analysis"
	"github.com/kcons/kc/internal/qdrant"
	"github.com/kcons/kc/internal/retrieval"
	"github.com/kcons/kc/internal/storage"
)

// QdrantBatchSize is the number of points sent per upsert.
const QdrantBatchSize = 64

var pointNamespace = uuid.MustParse("6f1c0c53-61b5-4e3c-9a59-0d7cf4b6a2e1")

// QdrantSink is implemented by qdrant.Client.
type QdrantSink interface {
	Collection() string
	EnsureCollection(ctx context.Context, vectorSize int) (bool, error)
	Upsert(ctx context.Context, points []qdrant.Point) error
	DeleteByFile(ctx context.Context, fileID string) error
}

// VectorChunk is one embedded slice of a file ready to be written.
type VectorChunk struct {
	ID         string
	FileID     string
	ChunkIndex int
	Content    string
	Embedding  []float32
	Entry      FileEntry
}

// PointID derives a stable point id from a file id and chunk index so
// re-exports overwrite instead of duplicating.
func PointID(fileID string, chunk int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fileID+":"+strconv.Itoa(chunk))).String()
}

func (e *Exporter) embedFile(ctx context.Context, f storage.FileRecord) ([]VectorChunk, error) {
	texts := retrieval.Chunk(fileText(f), e.opts.ChunkSize, e.opts.ChunkOverlap)
	if len(texts) == 0 {
		return nil, fmt.Errorf("no content to embed")
	}
	vecs, err := e.opts.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d chunks", len(vecs), len(texts))
	}
	entry := newEntry(f)
	out := make([]VectorChunk, len(texts))
	for i, t := range texts {
		out[i] = VectorChunk{
			ID:         PointID(f.ID, i),
			FileID:     f.ID,
			ChunkIndex: i,
			Content:    t,
			Embedding:  vecs[i],
			Entry:      entry,
		}
	}
	return out, nil
}

type chainRef struct {
	ID               string   `json:"id"`
	Participants     []string `json:"participants"`
	ConvergenceScore float64  `json:"convergenceScore"`
	DominantTheme    string   `json:"dominantTheme,omitempty"`
}

func (e *Exporter) chainsByFile(ctx context.Context) map[string][]chainRef {
	out := make(map[string][]chainRef)
	if e.opts.Convergence == nil {
		return out
	}
	chains, err := e.opts.Convergence(ctx)
	if err != nil {
		e.logger.Warn("computing convergence chains for export", "error", err)
		return out
	}
	for _, c := range chains {
		ref := chainRef{ID: c.ID, Participants: c.Participants, ConvergenceScore: c.ConvergenceScore, DominantTheme: c.DominantTheme}
		for _, p := range c.Participants {
			out[p] = append(out[p], ref)
		}
	}
	return out
}

// IntelligenceType maps an analysis type to the snake_case label used in
// vector payloads.
func IntelligenceType(analysisType string) string {
	switch analysisType {
	case analysis.TypeBreakthrough:
		return "technical_innovation"
	case analysis.TypeEvolution:
		return "paradigm_shifter"
	case analysis.TypeDecisive:
		return "decision_point"
	case analysis.TypeStrategic:
		return "strategic_insight"
	case analysis.TypeLearning:
		return "knowledge_piece"
	}
	return "unclassified"
}

func enrichmentLevel(entry FileEntry, chains []chainRef) string {
	switch {
	case entry.AnalysisType != "" && len(chains) > 0:
		return "convergence"
	case entry.AnalysisType != "":
		return "analyzed"
	}
	return "basic"
}

func payload(c VectorChunk, chains []chainRef) map[string]any {
	if chains == nil {
		chains = []chainRef{}
	}
	return map[string]any{
		"sourceFile":        c.Entry.Name,
		"path":              c.Entry.Path,
		"fileId":            c.FileID,
		"chunkIndex":        c.ChunkIndex,
		"content":           c.Content,
		"categories":        c.Entry.Categories,
		"relevanceScore":    c.Entry.RelevanceScore,
		"analysisType":      c.Entry.AnalysisType,
		"summary":           c.Entry.Summary,
		"intelligence_type": IntelligenceType(c.Entry.AnalysisType),
		"enrichment_level":  enrichmentLevel(c.Entry, chains),
		"convergenceChains": chains,
	}
}

// toQdrant embeds each file and upserts its chunks in batches. A file that
// fails to embed is reported in Result.Failed; a failing upsert aborts.
func (e *Exporter) toQdrant(ctx context.Context, files []storage.FileRecord, res *Result) error {
	if e.opts.Qdrant == nil {
		return fmt.Errorf("%w: qdrant", ErrNotConfigured)
	}
	if e.opts.Embedder == nil {
		return errNoEmbedder
	}
	res.Target = e.opts.Qdrant.Collection()
	chains := e.chainsByFile(ctx)

	var (
		batch    []qdrant.Point
		ensured  bool
		flushErr error
	)
	flush := func() {
		if len(batch) == 0 || flushErr != nil {
			return
		}
		if err := e.opts.Qdrant.Upsert(ctx, batch); err != nil {
			flushErr = fmt.Errorf("upserting points: %w", err)
			return
		}
		res.Points += len(batch)
		batch = batch[:0]
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, err := e.embedFile(ctx, f)
		if err != nil {
			res.Failed = append(res.Failed, FileError{FileID: f.ID, Name: f.Name, Error: err.Error()})
			continue
		}
		if !ensured {
			created, err := e.opts.Qdrant.EnsureCollection(ctx, len(chunks[0].Embedding))
			if err != nil {
				return fmt.Errorf("preparing collection: %w", err)
			}
			if created {
				e.logger.Info("created qdrant collection", "collection", res.Target, "dim", len(chunks[0].Embedding))
			}
			ensured = true
		}
		if err := e.opts.Qdrant.DeleteByFile(ctx, f.ID); err != nil {
			res.Failed = append(res.Failed, FileError{FileID: f.ID, Name: f.Name, Error: err.Error()})
			continue
		}
		for _, c := range chunks {
			batch = append(batch, qdrant.Point{ID: c.ID, Vector: c.Embedding, Payload: payload(c, chains[c.FileID])})
			if len(batch) >= QdrantBatchSize {
				flush()
			}
		}
		if flushErr != nil {
			return flushErr
		}
	}
	flush()
	return flushErr
}

// ChunkSink stores embedded chunks. Implemented by PgvectorSink.
type ChunkSink interface {
	EnsureTable(ctx context.Context, dim int) error
	WriteFile(ctx context.Context, fileID string, chunks []VectorChunk) error
	Target() string
	Close()
}

func (e *Exporter) toPgvector(ctx context.Context, files []storage.FileRecord, res *Result) error {
	if e.opts.OpenPgvector == nil {
		return fmt.Errorf("%w: pgvector", ErrNotConfigured)
	}
	if e.opts.Embedder == nil {
		return errNoEmbedder
	}
	sink, err := e.opts.OpenPgvector(ctx)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer sink.Close()
	res.Target = sink.Target()

	ensured := false
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks, err := e.embedFile(ctx, f)
		if err != nil {
			res.Failed = append(res.Failed, FileError{FileID: f.ID, Name: f.Name, Error: err.Error()})
			continue
		}
		if !ensured {
			if err := sink.EnsureTable(ctx, len(chunks[0].Embedding)); err != nil {
				return fmt.Errorf("preparing table: %w", err)
			}
			ensured = true
		}
		if err := sink.WriteFile(ctx, f.ID, chunks); err != nil {
			res.Failed = append(res.Failed, FileError{FileID: f.ID, Name: f.Name, Error: err.Error()})
			continue
		}
		res.Points += len(chunks)
	}
	return nil
}
