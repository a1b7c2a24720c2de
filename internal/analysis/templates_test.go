package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinTemplates(t *testing.T) {
	p := NewPrompts()
	list := p.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 built-in templates, got %d", len(list))
	}
	for _, id := range []string{"decisiveMoments", "technicalInsights", "projectAnalysis"} {
		tpl, err := p.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if !tpl.Builtin || tpl.System == "" || !strings.Contains(tpl.User, "{{content}}") || tpl.MaxTokens == 0 {
			t.Errorf("template %s incomplete: %+v", id, tpl)
		}
	}
	def, _ := p.Get("")
	if def.ID != DefaultTemplate {
		t.Errorf("empty id should select the default template")
	}
	if _, err := p.Get("nope"); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestRender(t *testing.T) {
	tpl := Template{User: "F={{fileName}} C={{categories}} X={{content}}"}
	got := tpl.Render("a.md", "body {{fileName}}", []string{"Técnico", "Insight"})
	if got != "F=a.md C=Técnico, Insight X=body {{fileName}}" {
		t.Errorf("got %q", got)
	}
	if got := tpl.Render("a.md", "", nil); !strings.Contains(got, "C=none") {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("a", maxContentRunes+10)
	if got := tpl.Render("a", long, nil); !strings.HasSuffix(got, "[...]") {
		t.Error("long content should be truncated")
	}
}

func TestLoadFile_OverridesAndAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	yml := `
- id: decisiveMoments
  temperature: 0.9
- id: weekly
  name: Weekly review
  user: "Review {{content}}"
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPrompts()
	if err := p.LoadFile(path); err != nil {
		t.Fatal(err)
	}

	dm, _ := p.Get("decisiveMoments")
	if dm.Temperature != 0.9 || dm.System == "" {
		t.Errorf("override should keep unspecified fields: %+v", dm)
	}
	w, err := p.Get("weekly")
	if err != nil || w.Builtin || w.Name != "Weekly review" {
		t.Errorf("weekly = %+v, %v", w, err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	p := NewPrompts()
	if err := p.Load([]byte("- name: no id\n")); err == nil {
		t.Error("expected error for template without id")
	}
	if err := p.Load([]byte("- id: empty\n")); err == nil {
		t.Error("expected error for new template without user prompt")
	}
	if err := p.Load([]byte("{not: [valid")); err == nil {
		t.Error("expected yaml error")
	}
}
