package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/storage"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func corpus() []storage.FileRecord {
	day := 24 * time.Hour
	return []storage.FileRecord{
		{ID: "a", Name: "Decisão.md", Extension: ".md", Size: 100, RelevanceScore: 95, Analyzed: true, ModifiedAt: now.Add(-10 * day), Categories: []string{"Técnico"}},
		{ID: "b", Name: "notes.txt", Extension: ".txt", Size: 2000, RelevanceScore: 55, Analyzed: true, ModifiedAt: now.Add(-100 * day), Categories: []string{"Insight"}, Preview: "Uma ideia sobre arquitetura"},
		{ID: "c", Name: "old.md", Extension: ".md", Size: 50, RelevanceScore: 55, ModifiedAt: now.Add(-500 * day)},
		{ID: "d", Name: "copy.md", Extension: ".md", Size: 100, RelevanceScore: 10, ModifiedAt: now.Add(-5 * day), DuplicateOf: "a"},
	}
}

func ids(files []storage.FileRecord) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApply_SortsByRelevanceThenModified(t *testing.T) {
	res := Apply(corpus(), Criteria{}, now)
	if got := ids(res.Files); !equal(got, []string{"a", "b", "c", "d"}) {
		t.Errorf("order = %v", got)
	}
	if res.Total != 4 {
		t.Errorf("Total = %d", res.Total)
	}
}

func TestApply_Criteria(t *testing.T) {
	tests := []struct {
		name string
		c    Criteria
		want []string
	}{
		{"relevance", Criteria{Relevance: ">=50"}, []string{"a", "b", "c"}},
		{"relevance 90", Criteria{Relevance: ">=90"}, []string{"a"}},
		{"pending", Criteria{Status: "pending"}, []string{"c", "d"}},
		{"analyzed", Criteria{Status: "analyzed"}, []string{"a", "b"}},
		{"time", Criteria{TimeRange: "3m"}, []string{"a", "d"}},
		{"size", Criteria{MinSize: 60, MaxSize: 1000}, []string{"a", "d"}},
		{"extensions", Criteria{Extensions: []string{"txt"}}, []string{"b"}},
		{"categories", Criteria{Categories: []string{"tecnico", "insight"}}, []string{"a", "b"}},
		{"search name", Criteria{Search: "decisao"}, []string{"a"}},
		{"search preview", Criteria{Search: "ARQUITETURA"}, []string{"b"}},
		{"duplicates", Criteria{HideDuplicates: true}, []string{"a", "b", "c"}},
		{"ids", Criteria{IDs: []string{"d", "c"}}, []string{"c", "d"}},
		{"combined", Criteria{Relevance: ">=50", Extensions: []string{".md"}, TimeRange: "1y"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(Apply(corpus(), tt.c, now).Files); !equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApply_Counts(t *testing.T) {
	res := Apply(corpus(), Criteria{Status: "analyzed"}, now)
	c := res.Counts

	// Status counts ignore the status criterion itself.
	if c.Status["all"] != 4 || c.Status["pending"] != 2 || c.Status["analyzed"] != 2 {
		t.Errorf("status counts = %v", c.Status)
	}
	// Other counts honour it.
	if c.Relevance["all"] != 2 || c.Relevance[">=90"] != 1 || c.Relevance[">=50"] != 2 {
		t.Errorf("relevance counts = %v", c.Relevance)
	}
	if c.Extensions[".md"] != 1 || c.Extensions[".txt"] != 1 {
		t.Errorf("extension counts = %v", c.Extensions)
	}
	if c.Categories["Técnico"] != 1 || c.Duplicates != 0 {
		t.Errorf("category counts = %v dup = %d", c.Categories, c.Duplicates)
	}
	if c.TimeRange["1m"] != 1 || c.TimeRange["all"] != 2 {
		t.Errorf("time counts = %v", c.TimeRange)
	}
}

func TestValidate(t *testing.T) {
	bad := []Criteria{
		{Relevance: ">=40"},
		{Status: "done"},
		{TimeRange: "5y"},
		{MinSize: 10, MaxSize: 5},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("expected error for %+v", c)
		}
	}
	if err := (Criteria{Relevance: ">=70", Status: "all", TimeRange: "6m"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func newTestManager(t *testing.T) (*Manager, *eventbus.Bus) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	bus := eventbus.New(0)
	m := NewManager(s, bus)
	m.now = func() time.Time { return now }
	return m, bus
}

func TestManager_ApplyEmits(t *testing.T) {
	m, bus := newTestManager(t)
	var got Applied
	bus.On(eventbus.FilesFiltered, func(p any) { got = p.(Applied) })

	res, err := m.Apply(corpus(), Criteria{Relevance: ">=90"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || got.Total != 1 || got.Criteria.Relevance != ">=90" {
		t.Errorf("res = %d, event = %+v", res.Total, got)
	}
	if _, err := m.Apply(corpus(), Criteria{Status: "bogus"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestManager_Presets(t *testing.T) {
	m, _ := newTestManager(t)

	c := Criteria{Relevance: ">=70", Categories: []string{"Técnico"}, HideDuplicates: true}
	if _, err := m.SavePreset("  top  ", c); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SavePreset("bad", Criteria{Status: "x"}); err == nil {
		t.Error("invalid criteria should not be saved")
	}
	if _, err := m.SavePreset("", c); err == nil {
		t.Error("empty name should be rejected")
	}

	p, err := m.Preset("top")
	if err != nil {
		t.Fatal(err)
	}
	if p.Criteria.Relevance != ">=70" || !p.Criteria.HideDuplicates || p.Criteria.Categories[0] != "Técnico" {
		t.Errorf("preset = %+v", p)
	}

	list, err := m.Presets()
	if err != nil || len(list) != 1 {
		t.Fatalf("Presets = %v, %v", list, err)
	}
	if err := m.DeletePreset("top"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Preset("top"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
