package tui

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/stats"
	"github.com/kcons/kc/internal/storage"
)

type mockSource struct {
	files     []storage.FileRecord
	cats      []storage.Category
	criteria  []filter.Criteria
	assigned  map[string][]string
	statsErr  error
	chains    []relevance.Chain
	convCalls int
}

func newMockSource() *mockSource {
	return &mockSource{
		files: []storage.FileRecord{
			{ID: "f1", Name: "decisao.md", RelevanceScore: 91, Analyzed: true, Categories: []string{"Decisivo"}},
			{ID: "f2", Name: "arquitetura.md", RelevanceScore: 64},
			{ID: "f3", Name: "lista.txt", RelevanceScore: 12},
		},
		cats: []storage.Category{
			{ID: "c1", Name: "Técnico", Color: "#4f46e5"},
			{ID: "c2", Name: "Decisivo", Color: "#dc2626"},
		},
		assigned: map[string][]string{"f1": {"Decisivo"}},
		chains: []relevance.Chain{
			{ID: "chain-1", Participants: []string{"f1", "f2"}, ConvergenceScore: 88, DominantTheme: "arquitetura"},
		},
	}
}

func (m *mockSource) Files(_ context.Context, c filter.Criteria) (filter.Result, error) {
	m.criteria = append(m.criteria, c)
	return filter.Apply(m.files, c, time.Now()), nil
}

func (m *mockSource) Categories(context.Context) ([]storage.Category, error) { return m.cats, nil }

func (m *mockSource) name(id string) string {
	for _, c := range m.cats {
		if c.ID == id {
			return c.Name
		}
	}
	return id
}

func (m *mockSource) Assign(_ context.Context, fileID, cat string) ([]string, error) {
	m.assigned[fileID] = append(m.assigned[fileID], m.name(cat))
	return m.assigned[fileID], nil
}

func (m *mockSource) Unassign(_ context.Context, fileID, cat string) ([]string, error) {
	name := m.name(cat)
	m.assigned[fileID] = slices.DeleteFunc(m.assigned[fileID], func(s string) bool { return s == name })
	return m.assigned[fileID], nil
}

func (m *mockSource) Stats(context.Context) (stats.Stats, error) {
	if m.statsErr != nil {
		return stats.Stats{}, m.statsErr
	}
	return stats.Compute(m.files), nil
}

func (m *mockSource) Convergence(context.Context) (relevance.Report, error) {
	m.convCalls++
	return relevance.Report{Summary: relevance.Summary{Chains: m.chains, Documents: 3, Participants: 2, Threshold: 0.75}}, nil
}

// drain runs cmd and feeds every resulting message back into the model.
func drain(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		return
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			drain(t, m, c)
		}
		return
	}
	if msg == nil {
		return
	}
	_, next := m.Update(msg)
	drain(t, m, next)
}

func press(t *testing.T, m *Model, keys ...string) {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case " ":
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		_, cmd := m.Update(msg)
		drain(t, m, cmd)
	}
}

func newTestModel(t *testing.T) (*Model, *mockSource) {
	t.Helper()
	src := newMockSource()
	m := New(src)
	drain(t, m, m.Init())
	return m, src
}

func TestInit_LoadsFilesAndCategories(t *testing.T) {
	m, _ := newTestModel(t)
	if len(m.workflow.files) != 3 || len(m.categories) != 2 {
		t.Fatalf("files = %d, categories = %d", len(m.workflow.files), len(m.categories))
	}
	if m.workflow.files[0].ID != "f1" {
		t.Errorf("first file = %s, want most relevant f1", m.workflow.files[0].ID)
	}
	view := m.View()
	if !strings.Contains(view, "decisao.md") || !strings.Contains(view, "3 files") {
		t.Errorf("view missing files:\n%s", view)
	}
}

func TestWorkflow_CursorAndRelevanceBand(t *testing.T) {
	m, src := newTestModel(t)

	press(t, m, "j", "j", "j")
	if f, _ := m.workflow.Selected(); f.ID != "f3" {
		t.Errorf("selected = %s, want f3 (cursor clamps)", f.ID)
	}

	press(t, m, "r", "r")
	last := src.criteria[len(src.criteria)-1]
	if last.Relevance != ">=50" {
		t.Errorf("relevance = %q, want >=50", last.Relevance)
	}
	if len(m.workflow.files) != 2 {
		t.Errorf("files = %d, want 2", len(m.workflow.files))
	}
	if f, _ := m.workflow.Selected(); f.ID != "f2" {
		t.Errorf("cursor not clamped after reload: %s", f.ID)
	}

	press(t, m, "s")
	if got := src.criteria[len(src.criteria)-1].Status; got != "pending" {
		t.Errorf("status = %q, want pending", got)
	}
}

func TestCategoryQuickSelector_Toggle(t *testing.T) {
	m, src := newTestModel(t)

	press(t, m, "c")
	if !m.selector.Active() {
		t.Fatal("selector not opened")
	}
	if !strings.Contains(m.View(), "Categories for decisao.md") {
		t.Errorf("selector view:\n%s", m.View())
	}

	// Técnico is unassigned: toggling assigns it.
	press(t, m, " ")
	if got := src.assigned["f1"]; !slices.Contains(got, "Técnico") {
		t.Fatalf("assigned = %v", got)
	}
	if f, _ := m.workflow.Selected(); len(f.Categories) != 2 {
		t.Errorf("workflow not updated: %v", f.Categories)
	}

	// Decisivo is assigned: toggling removes it.
	press(t, m, "j", "enter")
	if got := src.assigned["f1"]; slices.Contains(got, "Decisivo") {
		t.Errorf("Decisivo still assigned: %v", got)
	}

	press(t, m, "esc")
	if m.selector.Active() {
		t.Error("selector still open after esc")
	}
}

func TestStatsPanel(t *testing.T) {
	m, _ := newTestModel(t)

	press(t, m, "2")
	if m.tab != tabStats || !m.stats.loaded {
		t.Fatalf("tab = %d, loaded = %v", m.tab, m.stats.loaded)
	}
	view := m.View()
	if !strings.Contains(view, "Files: 3") || !strings.Contains(view, "90-100") {
		t.Errorf("stats view:\n%s", view)
	}
}

func TestStatsPanel_Error(t *testing.T) {
	m, src := newTestModel(t)
	src.statsErr = errors.New("daemon down")

	press(t, m, "2")
	if !strings.Contains(m.View(), "daemon down") {
		t.Errorf("error not shown:\n%s", m.View())
	}
}

func TestConvergenceDashboard(t *testing.T) {
	m, src := newTestModel(t)

	press(t, m, "tab", "tab")
	if m.tab != tabConvergence {
		t.Fatalf("tab = %d", m.tab)
	}
	view := m.View()
	if !strings.Contains(view, "arquitetura") || !strings.Contains(view, "decisao.md") {
		t.Errorf("convergence view:\n%s", view)
	}

	press(t, m, "tab", "tab", "tab")
	if src.convCalls != 1 {
		t.Errorf("convergence computed %d times, want 1", src.convCalls)
	}
	press(t, m, "r")
	if src.convCalls != 2 {
		t.Errorf("convergence computed %d times after r, want 2", src.convCalls)
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"decisão", 10, "decisão"},
		{"decisão", 5, "deci…"},
		{"abc", 1, "…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
