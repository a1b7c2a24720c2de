package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCollectionInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/knowledge_consolidator" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("api-key = %q", r.Header.Get("api-key"))
		}
		w.Write([]byte(`{"result":{"status":"green","points_count":351,"config":{"params":{"vectors":{"size":768,"distance":"Cosine"}}}},"status":"ok"}`))
	}))
	defer srv.Close()

	info, err := NewClient(srv.URL, "knowledge_consolidator", "secret").CollectionInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.PointsCount != 351 || info.VectorSize != 768 || info.Status != "green" || info.Distance != "Cosine" {
		t.Errorf("info = %+v", info)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":{"error":"Not found: Collection doesn't exist"}}`))
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&created)
			w.Write([]byte(`{"result":true,"status":"ok"}`))
		}
	}))
	defer srv.Close()

	ok, err := NewClient(srv.URL, "kc", "").EnsureCollection(context.Background(), 768)
	if err != nil || !ok {
		t.Fatalf("EnsureCollection = %v, %v", ok, err)
	}
	vectors := created["vectors"].(map[string]any)
	if vectors["size"].(float64) != 768 || vectors["distance"] != "Cosine" {
		t.Errorf("create body = %v", created)
	}
}

func TestEnsureCollection_SizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"status":"green","config":{"params":{"vectors":{"size":384,"distance":"Cosine"}}}}}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "kc", "").EnsureCollection(context.Background(), 768); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestScrollAll_Pages(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls++
		if body["with_vector"] != false {
			t.Error("scroll should not request vectors")
		}
		if _, ok := body["offset"]; !ok {
			w.Write([]byte(`{"result":{"points":[{"id":1,"payload":{"sourceFile":"a.md"}},{"id":"b-uuid","payload":{}}],"next_page_offset":3}}`))
			return
		}
		if body["offset"].(float64) != 3 {
			t.Errorf("offset = %v", body["offset"])
		}
		w.Write([]byte(`{"result":{"points":[{"id":3,"payload":{}}],"next_page_offset":null}}`))
	}))
	defer srv.Close()

	points, err := NewClient(srv.URL, "kc", "").ScrollAll(context.Background(), 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 || calls != 2 {
		t.Fatalf("got %d points in %d calls", len(points), calls)
	}
	if points[0].ID != "1" || points[1].ID != "b-uuid" {
		t.Errorf("ids = %q %q", points[0].ID, points[1].ID)
	}
}

func TestSearchAndDelete(t *testing.T) {
	var deleteBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/kc/points/search":
			w.Write([]byte(`{"result":[{"id":"p1","score":0.91,"payload":{"fileId":"f1"}}]}`))
		case "/collections/kc/points/delete":
			if r.URL.Query().Get("wait") != "true" {
				t.Error("delete should wait")
			}
			json.NewDecoder(r.Body).Decode(&deleteBody)
			w.Write([]byte(`{"result":{"status":"completed"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "kc", "")
	hits, err := c.Search(context.Background(), []float32{0.1, 0.2}, 5)
	if err != nil || len(hits) != 1 || hits[0].Score != 0.91 {
		t.Fatalf("Search = %+v, %v", hits, err)
	}
	if err := c.DeleteByFile(context.Background(), "f1"); err != nil {
		t.Fatal(err)
	}
	if deleteBody["filter"] == nil {
		t.Errorf("delete body = %v", deleteBody)
	}
}

func TestUpsert_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":{"error":"wrong vector size"}}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "kc", "").Upsert(context.Background(), []Point{{ID: "x", Vector: []float32{1}}})
	if err == nil || errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("err = %v", err)
	}
	if NewClient(srv.URL, "kc", "").Upsert(context.Background(), nil) != nil {
		t.Error("empty upsert should be a no-op")
	}
}

func TestAnalyze(t *testing.T) {
	points := []Point{
		{ID: "1", Payload: map[string]any{
			"sourceFile":        "a.md",
			"categories":        []any{"Técnico", "Insight"},
			"intelligence_type": "technical_insight",
			"enrichment_level":  "full",
			"convergenceChains": []any{
				map[string]any{"participants": []any{"a", "b"}, "convergenceScore": 80.0},
				map[string]any{"participants": []any{"a", "b", "c"}, "convergenceScore": 92.0},
			},
		}},
		{ID: "2", Payload: map[string]any{
			"file":             "b.md",
			"categories":       "Técnico",
			"intelligenceType": "decision_point",
			"enrichmentLevel":  "basic",
		}},
		{ID: "3", Payload: map[string]any{"sourceFile": "a.md"}},
	}
	r := Analyze(points)

	if r.Points != 3 || len(r.UniqueFiles) != 2 || r.UniqueFiles[0] != "a.md" {
		t.Errorf("files = %v", r.UniqueFiles)
	}
	if r.Categories[0].Label != "Técnico" || r.Categories[0].Count != 2 || r.Categories[0].Percent != 66.7 {
		t.Errorf("categories = %+v", r.Categories)
	}
	if len(r.IntelligenceTypes) != 2 || len(r.EnrichmentLevels) != 2 {
		t.Errorf("intel = %+v enrich = %+v", r.IntelligenceTypes, r.EnrichmentLevels)
	}
	if r.ChainSizes.N != 2 || r.ChainSizes.Mean != 2.5 || r.ChainSizes.Max != 3 || r.ChainSizeCounts["3"] != 1 {
		t.Errorf("chain sizes = %+v %v", r.ChainSizes, r.ChainSizeCounts)
	}
	if r.ConvergenceScores.Median != 86 || math.Abs(r.ConvergenceScores.StdDev-8.485) > 0.001 {
		t.Errorf("scores = %+v", r.ConvergenceScores)
	}
	if len(r.ScoreRanges) != 2 || r.ScoreRanges[0].Label != "80-90" {
		t.Errorf("ranges = %+v", r.ScoreRanges)
	}
	want := Quality{WithFile: 3, WithCategories: 2, WithIntelligence: 2, WithChains: 1}
	if r.Quality != want {
		t.Errorf("quality = %+v", r.Quality)
	}
	if len(r.PayloadFields) != 8 {
		t.Errorf("fields = %v", r.PayloadFields)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	r := Analyze(nil)
	if r.Points != 0 || r.ConvergenceScores.N != 0 || r.ScoreRanges == nil {
		t.Errorf("report = %+v", r)
	}
}
