package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the file_vectors table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		CREATE TABLE file_vectors (
			id          TEXT PRIMARY KEY,
			file_id     TEXT NOT NULL,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			text_chunk  TEXT NOT NULL,
			embedding   BLOB NOT NULL,
			categories  TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	vec := makeTestVector(768, 0.1)
	err := s.Insert(ctx, []Record{{
		ID:         "r1",
		FileID:     "f1",
		TextChunk:  "we decided to migrate",
		Embedding:  vec,
		Categories: []string{"Decisivo"},
		CreatedAt:  time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, vec, 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.999 {
		t.Errorf("score = %f, want ~1", results[0].Score)
	}
	if results[0].FileID != "f1" || len(results[0].Categories) != 1 || results[0].Categories[0] != "Decisivo" {
		t.Errorf("record = %+v", results[0].Record)
	}
}

func TestSearch_TopKOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			ID:        fmt.Sprintf("r%d", i),
			FileID:    fmt.Sprintf("f%d", i),
			TextChunk: "chunk",
			Embedding: []float32{1, float32(i)},
		})
	}
	if err := s.Insert(ctx, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []string{"r0", "r1", "r2"}
	for i, id := range want {
		if results[i].ID != id {
			t.Errorf("results[%d] = %s, want %s", i, results[i].ID, id)
		}
	}
}

func TestSearch_FileFilter(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if err := s.Insert(ctx, []Record{
		{ID: "a", FileID: "f1", TextChunk: "x", Embedding: []float32{1, 0}},
		{ID: "b", FileID: "f2", TextChunk: "y", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	results, err := s.Search(ctx, []float32{1, 0}, 5, []string{"f2"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearch_EmptyAndZero(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	results, err := s.Search(ctx, []float32{1, 0}, 5, nil)
	if err != nil || results != nil {
		t.Errorf("empty table: %v, %v", results, err)
	}
	results, err = s.Search(ctx, []float32{0, 0}, 5, nil)
	if err != nil || results != nil {
		t.Errorf("zero vector: %v, %v", results, err)
	}
	results, err = s.Search(ctx, []float32{1, 0}, 0, nil)
	if err != nil || results != nil {
		t.Errorf("topK 0: %v, %v", results, err)
	}
}

func TestByFileAndDeleteByFile(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if err := s.Insert(ctx, []Record{
		{ID: "c1", FileID: "f1", ChunkIndex: 1, TextChunk: "second", Embedding: []float32{1}},
		{ID: "c0", FileID: "f1", ChunkIndex: 0, TextChunk: "first", Embedding: []float32{1}},
		{ID: "o", FileID: "f2", TextChunk: "other", Embedding: []float32{1}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.ByFile(ctx, "f1")
	if err != nil {
		t.Fatalf("ByFile: %v", err)
	}
	if len(got) != 2 || got[0].TextChunk != "first" {
		t.Errorf("ByFile = %+v", got)
	}

	ids, err := s.FileIDs(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("FileIDs = %v, %v", ids, err)
	}

	n, err := s.DeleteByFile(ctx, "f1")
	if err != nil {
		t.Fatalf("DeleteByFile: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	count, err := s.Count(ctx)
	if err != nil || count != 1 {
		t.Errorf("Count = %d, %v", count, err)
	}
}

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, math.MaxFloat32}
	out, err := decodeVectorInto(nil, encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	buf := make([]float32, 0, 8)
	reused, _ := decodeVectorInto(buf, encodeVector([]float32{7}))
	if len(reused) != 1 || &reused[:1][0] != &buf[:1][0] {
		t.Error("decode did not reuse the buffer")
	}
	if _, err := decodeVectorInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestSetCategories(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if err := s.Insert(ctx, []Record{
		{ID: "a", FileID: "f1", TextChunk: "x", Embedding: []float32{1, 0}, Categories: []string{"Decisivo"}},
		{ID: "b", FileID: "f1", ChunkIndex: 1, TextChunk: "y", Embedding: []float32{0, 1}},
		{ID: "c", FileID: "f2", TextChunk: "z", Embedding: []float32{1, 1}, Categories: []string{"Insight"}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.SetCategories(ctx, "f1", []string{"Decisivo", "Técnico"}); err != nil {
		t.Fatalf("SetCategories: %v", err)
	}
	got, _ := s.ByFile(ctx, "f1")
	for _, r := range got {
		if len(r.Categories) != 2 || r.Categories[1] != "Técnico" {
			t.Errorf("chunk %s categories = %v", r.ID, r.Categories)
		}
	}
	other, _ := s.ByFile(ctx, "f2")
	if len(other[0].Categories) != 1 || other[0].Categories[0] != "Insight" {
		t.Errorf("f2 categories changed: %v", other[0].Categories)
	}

	if err := s.SetCategories(ctx, "f1", nil); err != nil {
		t.Fatalf("SetCategories(nil): %v", err)
	}
	got, _ = s.ByFile(ctx, "f1")
	if got[0].Categories == nil || len(got[0].Categories) != 0 {
		t.Errorf("cleared categories = %#v, want empty list", got[0].Categories)
	}
}

func TestSearch_TiesOrderedByID(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if err := s.Insert(ctx, []Record{
		{ID: "z", FileID: "f1", TextChunk: "x", Embedding: []float32{2, 0}},
		{ID: "m", FileID: "f2", TextChunk: "x", Embedding: []float32{1, 0}},
		{ID: "a", FileID: "f3", TextChunk: "x", Embedding: []float32{3, 0}},
	}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search(ctx, []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "a,m,z" {
		t.Errorf("order = %v", ids)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}
