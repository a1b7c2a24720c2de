package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/qdrant"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/storage"
)

type fakeStore struct {
	files   []storage.FileRecord
	cats    []storage.Category
	history []storage.ExportEntry
}

func (f *fakeStore) ListFiles(storage.ListOptions) ([]storage.FileRecord, error) { return f.files, nil }
func (f *fakeStore) ListCategories() ([]storage.Category, error)                 { return f.cats, nil }
func (f *fakeStore) RecordExport(e storage.ExportEntry) error {
	f.history = append([]storage.ExportEntry{e}, f.history...)
	return nil
}
func (f *fakeStore) ExportHistory(limit int) ([]storage.ExportEntry, error) { return f.history, nil }

type fakeEmbedder struct {
	embedFn func(texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.embedFn != nil {
		return f.embedFn(texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleFiles() []storage.FileRecord {
	return []storage.FileRecord{
		{
			ID: "f1", Name: "decisao.md", Path: "/notes/decisao.md", Size: 120,
			ModifiedAt: fixedNow.Add(-24 * time.Hour), Content: "Decidimos migrar o banco.\n\nFoi um ponto de virada.",
			Preview: "Decidimos migrar o banco.", RelevanceScore: 82, Categories: []string{"Decisivo", "Técnico"},
			Analyzed: true, AnalysisType: "Momento Decisivo",
			Analysis: &storage.Analysis{Summary: "Migration decision", Moments: []string{"chose postgres"}},
		},
		{
			ID: "f2", Name: "ideia.txt", Path: "/notes/ideia.txt", Size: 40,
			ModifiedAt: fixedNow.Add(-48 * time.Hour), Content: "Uma ideia solta, com vírgula",
			Preview: "Uma ideia solta", RelevanceScore: 45, Analyzed: true, AnalysisType: "Aprendizado Geral",
			Analysis: &storage.Analysis{Summary: "Loose idea, \"quoted\""},
		},
		{
			ID: "f3", Name: "pendente.md", Path: "/notes/pendente.md", Size: 10,
			ModifiedAt: fixedNow, Content: "ainda não analisado", RelevanceScore: 20,
		},
	}
}

func newTestExporter(store *fakeStore, opts Options) *Exporter {
	e := New(store, opts)
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestSelect_DefaultsToAnalyzed(t *testing.T) {
	e := newTestExporter(&fakeStore{files: sampleFiles()}, Options{})
	files, err := e.Select(Request{Format: FormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].ID != "f1" || files[1].ID != "f2" {
		t.Fatalf("got %d files: %+v", len(files), files)
	}
}

func TestSelect_IDsAndCriteria(t *testing.T) {
	e := newTestExporter(&fakeStore{files: sampleFiles()}, Options{})

	files, _ := e.Select(Request{IDs: []string{"f3"}})
	if len(files) != 1 || files[0].ID != "f3" {
		t.Errorf("ids: %+v", files)
	}

	files, _ = e.Select(Request{Criteria: &filter.Criteria{Relevance: ">=70"}})
	if len(files) != 1 || files[0].ID != "f1" {
		t.Errorf("criteria: %+v", files)
	}

	if _, err := e.Select(Request{Criteria: &filter.Criteria{Relevance: "huge"}}); err == nil {
		t.Error("expected validation error")
	}
}

func TestRun_JSON(t *testing.T) {
	store := &fakeStore{files: sampleFiles(), cats: []storage.Category{{ID: "c1", Name: "Decisivo"}}}
	bus := eventbus.New(10)
	e := newTestExporter(store, Options{Bus: bus, ChunkSize: 20, ChunkOverlap: 0})

	res, err := e.Run(context.Background(), Request{Format: FormatJSON, IncludeChunks: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != "response" || res.Files != 2 {
		t.Errorf("result = %+v", res)
	}

	var doc Document
	if err := json.Unmarshal(res.Data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != Version || !doc.ExportedAt.Equal(fixedNow) {
		t.Errorf("header = %s %v", doc.Version, doc.ExportedAt)
	}
	if doc.Stats.Files != 2 || len(doc.Categories) != 1 {
		t.Errorf("stats/categories = %+v %+v", doc.Stats, doc.Categories)
	}
	f := doc.Files[0]
	if f.Summary != "Migration decision" || len(f.Moments) != 1 || len(f.Chunks) < 2 {
		t.Errorf("entry = %+v", f)
	}
	if doc.Files[1].Moments == nil || doc.Files[1].Categories == nil {
		t.Error("empty lists should encode as []")
	}

	if len(store.history) != 1 || store.history[0].Format != "json" || store.history[0].FileCount != 2 {
		t.Errorf("history = %+v", store.history)
	}
	if len(bus.History(eventbus.ExportCompleted)) != 1 {
		t.Error("EXPORT_COMPLETED not emitted")
	}
}

func TestRun_JSONWithoutChunks(t *testing.T) {
	e := newTestExporter(&fakeStore{files: sampleFiles()}, Options{})
	res, err := e.Run(context.Background(), Request{Format: FormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(res.Data, []byte(`"chunks"`)) {
		t.Error("chunks present without IncludeChunks")
	}
}

func TestRun_MarkdownToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sub", "export.md")
	e := newTestExporter(&fakeStore{files: sampleFiles()}, Options{})

	res, err := e.Run(context.Background(), Request{Format: FormatMarkdown, Output: out})
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != out || res.Data != nil {
		t.Errorf("result = %+v", res)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	md := string(data)
	if !strings.HasPrefix(md, "---\n") || !strings.Contains(md, "files: 2") {
		t.Errorf("frontmatter missing:\n%s", md)
	}
	for _, want := range []string{"## decisao.md", "- **Relevance:** 82%", "- chose postgres", "> Decidimos migrar o banco."} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRun_CSV(t *testing.T) {
	e := newTestExporter(&fakeStore{files: sampleFiles()}, Options{})
	res, err := e.Run(context.Background(), Request{Format: FormatCSV})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(res.Data)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "id,name,path,size,modified,relevance,categories,analysis_type,summary" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][6] != "Decisivo;Técnico" || rows[1][5] != "82.0" {
		t.Errorf("row = %v", rows[1])
	}
	if rows[2][8] != `Loose idea, "quoted"` {
		t.Errorf("summary not round-tripped: %q", rows[2][8])
	}
}

type qdrantServer struct {
	mu       sync.Mutex
	upserts  [][]qdrant.Point
	deletes  int
	created  bool
	failFile string
}

func (s *qdrantServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":{"error":"Not found"}}`))
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/points"):
			var body struct {
				Points []qdrant.Point `json:"points"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decoding upsert: %v", err)
			}
			s.upserts = append(s.upserts, body.Points)
			w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
		case r.Method == http.MethodPut:
			s.created = true
			w.Write([]byte(`{"result":true}`))
		case strings.HasSuffix(r.URL.Path, "/points/delete"):
			s.deletes++
			w.Write([]byte(`{"result":{"status":"completed"}}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}
}

func TestRun_Qdrant(t *testing.T) {
	srv := &qdrantServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	files := sampleFiles()
	files[0].Content = strings.Repeat("palavra ", 2000)
	store := &fakeStore{files: files}
	emb := &fakeEmbedder{embedFn: func(texts []string) ([][]float32, error) {
		if strings.HasPrefix(texts[0], "Uma ideia") {
			return nil, errors.New("model offline")
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0.1, 0.2, 0.3, 0.4}
		}
		return out, nil
	}}
	e := newTestExporter(store, Options{
		Embedder:     emb,
		Qdrant:       qdrant.NewClient(ts.URL, "kc", ""),
		ChunkSize:    100,
		ChunkOverlap: 0,
		Convergence: func(context.Context) ([]relevance.Chain, error) {
			return []relevance.Chain{{ID: "ch1", Participants: []string{"f1", "f9"}, ConvergenceScore: 88}}, nil
		},
	})

	res, err := e.Run(context.Background(), Request{Format: FormatQdrant})
	if err != nil {
		t.Fatal(err)
	}
	if !srv.created {
		t.Error("collection not created")
	}
	if res.Target != "kc" || len(res.Failed) != 1 || res.Failed[0].FileID != "f2" {
		t.Errorf("result = %+v", res)
	}

	total := 0
	for _, b := range srv.upserts {
		if len(b) > QdrantBatchSize {
			t.Errorf("batch of %d exceeds %d", len(b), QdrantBatchSize)
		}
		total += len(b)
	}
	if total != res.Points || total <= QdrantBatchSize {
		t.Errorf("points = %d, result = %d", total, res.Points)
	}
	if srv.deletes != 1 {
		t.Errorf("deletes = %d", srv.deletes)
	}

	p := srv.upserts[0][0]
	if p.ID != PointID("f1", 0) {
		t.Errorf("point id = %s", p.ID)
	}
	if p.Payload["sourceFile"] != "decisao.md" || p.Payload["fileId"] != "f1" {
		t.Errorf("payload = %v", p.Payload)
	}
	if p.Payload["intelligence_type"] != "decision_point" || p.Payload["enrichment_level"] != "convergence" {
		t.Errorf("enrichment = %v / %v", p.Payload["intelligence_type"], p.Payload["enrichment_level"])
	}
	chains := p.Payload["convergenceChains"].([]any)
	if len(chains) != 1 || chains[0].(map[string]any)["convergenceScore"].(float64) != 88 {
		t.Errorf("chains = %v", chains)
	}
}

func TestRun_QdrantNotConfigured(t *testing.T) {
	e := newTestExporter(&fakeStore{files: sampleFiles()}, Options{Embedder: &fakeEmbedder{}})
	_, err := e.Run(context.Background(), Request{Format: FormatQdrant})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

type fakeSink struct {
	dim    int
	writes map[string]int
	closed bool
}

func (f *fakeSink) EnsureTable(_ context.Context, dim int) error { f.dim = dim; return nil }
func (f *fakeSink) WriteFile(_ context.Context, fileID string, chunks []VectorChunk) error {
	if f.writes == nil {
		f.writes = map[string]int{}
	}
	f.writes[fileID] = len(chunks)
	return nil
}
func (f *fakeSink) Target() string { return "kc_chunks" }
func (f *fakeSink) Close()         { f.closed = true }

func TestRun_Pgvector(t *testing.T) {
	sink := &fakeSink{}
	store := &fakeStore{files: sampleFiles()}
	e := newTestExporter(store, Options{
		Embedder:     &fakeEmbedder{},
		OpenPgvector: func(context.Context) (ChunkSink, error) { return sink, nil },
	})

	res, err := e.Run(context.Background(), Request{Format: FormatPgvector})
	if err != nil {
		t.Fatal(err)
	}
	if sink.dim != 3 || !sink.closed {
		t.Errorf("sink = %+v", sink)
	}
	if sink.writes["f1"] == 0 || sink.writes["f2"] == 0 || res.Points != sink.writes["f1"]+sink.writes["f2"] {
		t.Errorf("writes = %v, points = %d", sink.writes, res.Points)
	}
	if store.history[0].Target != "kc_chunks" {
		t.Errorf("history = %+v", store.history)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "md": FormatMarkdown, "csv": FormatCSV, "postgres": FormatPgvector} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestNewPgvectorSink_RejectsBadTable(t *testing.T) {
	if _, err := NewPgvectorSink(context.Background(), "postgres://localhost/kc", "chunks; drop"); err == nil {
		t.Fatal("expected invalid table error")
	}
}
