package stats

import (
	"testing"

	"github.com/kcons/kc/internal/storage"
)

func TestCompute(t *testing.T) {
	files := []storage.FileRecord{
		{Extension: ".md", Size: 10, Analyzed: true, RelevanceScore: 95, AnalysisType: "Momento Decisivo", Categories: []string{"Técnico", "Insight"}},
		{Extension: ".md", Size: 20, Analyzed: true, RelevanceScore: 72, AnalysisType: "Momento Decisivo", Categories: []string{"Técnico"}},
		{Extension: ".pdf", Size: 30, RelevanceScore: 29.9, DuplicateOf: "x"},
		{Size: 40, RelevanceScore: 50, ExtractError: "unsupported"},
	}
	s := Compute(files)

	if s.Files != 4 || s.Analyzed != 2 || s.Pending != 2 || s.Duplicates != 1 || s.ExtractErrors != 1 {
		t.Errorf("totals = %+v", s)
	}
	if s.TotalSize != 100 {
		t.Errorf("TotalSize = %d", s.TotalSize)
	}
	if s.Categories["Técnico"] != 2 || s.Categories["Insight"] != 1 || s.Uncategorized != 2 {
		t.Errorf("categories = %v uncategorized = %d", s.Categories, s.Uncategorized)
	}
	wantBands := map[string]int{"0-29": 1, "30-49": 0, "50-69": 1, "70-89": 1, "90-100": 1}
	for b, n := range wantBands {
		if s.RelevanceBands[b] != n {
			t.Errorf("band %s = %d, want %d", b, s.RelevanceBands[b], n)
		}
	}
	if s.AnalysisTypes["Momento Decisivo"] != 2 {
		t.Errorf("types = %v", s.AnalysisTypes)
	}
	if s.Extensions[".md"] != 2 || s.Extensions["(none)"] != 1 {
		t.Errorf("extensions = %v", s.Extensions)
	}
	if s.AverageRelevance != 61.7 {
		t.Errorf("AverageRelevance = %v", s.AverageRelevance)
	}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil)
	if s.Files != 0 || s.AverageRelevance != 0 || len(s.RelevanceBands) != len(Bands) {
		t.Errorf("empty stats = %+v", s)
	}
}
