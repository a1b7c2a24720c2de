// Package export writes the curated corpus to files or vector databases.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/retrieval"
	"github.com/kcons/kc/internal/stats"
	"github.com/kcons/kc/internal/storage"
)

// Version is written into every export document.
const Version = "2.0"

// Format names an export target.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatQdrant   Format = "qdrant"
	FormatPgvector Format = "pgvector"
)

// ParseFormat accepts the format names plus md.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "qdrant":
		return FormatQdrant, nil
	case "pgvector", "postgres":
		return FormatPgvector, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json, markdown, csv, qdrant or pgvector)", s)
}

// Request describes one export.
type Request struct {
	Format Format `json:"format"`
	// Criteria selects files. Ignored when IDs is set. When both are empty
	// every analyzed file is exported.
	Criteria *filter.Criteria `json:"criteria,omitempty"`
	IDs      []string         `json:"ids,omitempty"`
	// IncludeChunks adds chunked content to JSON exports.
	IncludeChunks bool `json:"includeChunks,omitempty"`
	// Output is a file path for json, markdown and csv. Empty returns the
	// document in Result.Data.
	Output string `json:"output,omitempty"`
}

// FileError is a per-file failure that did not stop the export.
type FileError struct {
	FileID string `json:"fileId"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// Result describes a finished export.
type Result struct {
	ID     string      `json:"id"`
	Format Format      `json:"format"`
	Target string      `json:"target"`
	Files  int         `json:"files"`
	Points int         `json:"points,omitempty"`
	Failed []FileError `json:"failed,omitempty"`
	Data   []byte      `json:"-"`
}

// Store is the persistence the exporter needs. Implemented by storage.Store.
type Store interface {
	ListFiles(opts storage.ListOptions) ([]storage.FileRecord, error)
	ListCategories() ([]storage.Category, error)
	RecordExport(e storage.ExportEntry) error
	ExportHistory(limit int) ([]storage.ExportEntry, error)
}

// Embedder turns chunk texts into vectors. Implemented by retrieval.Embedder.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// Options wires the exporter's optional collaborators.
type Options struct {
	Embedder Embedder
	Qdrant   QdrantSink
	// OpenPgvector connects to Postgres on demand.
	OpenPgvector func(ctx context.Context) (ChunkSink, error)
	// Convergence supplies chains for the Qdrant payload. Optional.
	Convergence  func(ctx context.Context) ([]relevance.Chain, error)
	ChunkSize    int
	ChunkOverlap int
	Bus          Emitter
}

// Exporter runs export requests.
type Exporter struct {
	store  Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, opts Options) *Exporter {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 5
	}
	return &Exporter{store: store, opts: opts, logger: slog.Default(), now: time.Now}
}

// Run selects files, writes them in the requested format, records the export
// in the history and emits EXPORT_COMPLETED.
func (e *Exporter) Run(ctx context.Context, req Request) (Result, error) {
	files, err := e.Select(req)
	if err != nil {
		return Result{}, err
	}
	res := Result{ID: uuid.New().String(), Format: req.Format, Files: len(files)}

	switch req.Format {
	case FormatJSON, FormatMarkdown, FormatCSV:
		err = e.writeDocument(req, files, &res)
	case FormatQdrant:
		err = e.toQdrant(ctx, files, &res)
	case FormatPgvector:
		err = e.toPgvector(ctx, files, &res)
	default:
		err = fmt.Errorf("%w: unknown format %q", ErrInvalidRequest, req.Format)
	}
	if err != nil {
		return Result{}, err
	}

	detail := ""
	if res.Points > 0 || len(res.Failed) > 0 {
		detail = fmt.Sprintf("points=%d failed=%d", res.Points, len(res.Failed))
	}
	if err := e.store.RecordExport(storage.ExportEntry{
		ID:        res.ID,
		Format:    string(res.Format),
		Target:    res.Target,
		FileCount: res.Files - len(res.Failed),
		Detail:    detail,
		CreatedAt: e.now(),
	}); err != nil {
		e.logger.Warn("recording export history", "error", err)
	}
	if e.opts.Bus != nil {
		e.opts.Bus.Emit(eventbus.ExportCompleted, res)
	}
	return res, nil
}

// History returns past exports, newest first.
func (e *Exporter) History(limit int) ([]storage.ExportEntry, error) {
	h, err := e.store.ExportHistory(limit)
	if h == nil && err == nil {
		h = []storage.ExportEntry{}
	}
	return h, err
}

// Select resolves the files a request covers, with content loaded.
func (e *Exporter) Select(req Request) ([]storage.FileRecord, error) {
	all, err := e.store.ListFiles(storage.ListOptions{WithContent: true})
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	c := filter.Criteria{Status: "analyzed"}
	switch {
	case len(req.IDs) > 0:
		c = filter.Criteria{IDs: req.IDs}
	case req.Criteria != nil:
		c = *req.Criteria
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return filter.Apply(all, c, e.now()).Files, nil
}

func (e *Exporter) writeDocument(req Request, files []storage.FileRecord, res *Result) error {
	cats, err := e.store.ListCategories()
	if err != nil {
		return fmt.Errorf("listing categories: %w", err)
	}
	doc := e.buildDocument(files, cats, req.IncludeChunks)

	var data []byte
	switch req.Format {
	case FormatJSON:
		data, err = EncodeJSON(doc)
	case FormatMarkdown:
		data, err = EncodeMarkdown(doc)
	case FormatCSV:
		data, err = EncodeCSV(doc)
	}
	if err != nil {
		return err
	}

	if req.Output == "" {
		res.Target = "response"
		res.Data = data
		return nil
	}
	if dir := filepath.Dir(req.Output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(req.Output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", req.Output, err)
	}
	res.Target = req.Output
	return nil
}

// Document is the JSON export shape, laid out for RAG ingestion.
type Document struct {
	Version    string             `json:"version"`
	ExportedAt time.Time          `json:"exportedAt"`
	Stats      stats.Stats        `json:"stats"`
	Categories []storage.Category `json:"categories"`
	Files      []FileEntry        `json:"files"`
}

// FileEntry is one exported file.
type FileEntry struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Path           string       `json:"path"`
	Size           int64        `json:"size"`
	Modified       time.Time    `json:"modified"`
	RelevanceScore float64      `json:"relevanceScore"`
	Categories     []string     `json:"categories"`
	AnalysisType   string       `json:"analysisType"`
	Summary        string       `json:"summary"`
	Moments        []string     `json:"moments"`
	Preview        string       `json:"preview"`
	Chunks         []ChunkEntry `json:"chunks,omitempty"`
}

// ChunkEntry is a slice of file content sized for embedding.
type ChunkEntry struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func (e *Exporter) buildDocument(files []storage.FileRecord, cats []storage.Category, withChunks bool) Document {
	if cats == nil {
		cats = []storage.Category{}
	}
	doc := Document{
		Version:    Version,
		ExportedAt: e.now().UTC(),
		Stats:      stats.Compute(files),
		Categories: cats,
		Files:      make([]FileEntry, 0, len(files)),
	}
	for _, f := range files {
		entry := newEntry(f)
		if withChunks {
			for i, c := range retrieval.Chunk(fileText(f), e.opts.ChunkSize, e.opts.ChunkOverlap) {
				entry.Chunks = append(entry.Chunks, ChunkEntry{Index: i, Text: c})
			}
		}
		doc.Files = append(doc.Files, entry)
	}
	return doc
}

func newEntry(f storage.FileRecord) FileEntry {
	entry := FileEntry{
		ID:             f.ID,
		Name:           f.Name,
		Path:           f.Path,
		Size:           f.Size,
		Modified:       f.ModifiedAt.UTC(),
		RelevanceScore: f.RelevanceScore,
		Categories:     f.Categories,
		AnalysisType:   f.AnalysisType,
		Moments:        []string{},
		Preview:        f.Preview,
	}
	if entry.Categories == nil {
		entry.Categories = []string{}
	}
	if f.Analysis != nil {
		entry.Summary = f.Analysis.Summary
		if f.Analysis.Moments != nil {
			entry.Moments = f.Analysis.Moments
		}
	}
	return entry
}

func fileText(f storage.FileRecord) string {
	if f.Content != "" {
		return f.Content
	}
	return f.Preview
}

var (
	// ErrNotConfigured is returned when the target of a vector export is unset.
	ErrNotConfigured = errors.New("export target is not configured")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid export request")

	errNoEmbedder = fmt.Errorf("%w: vector export needs an embedder", ErrNotConfigured)
)
