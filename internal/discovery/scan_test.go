package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func relPaths(t *testing.T, root string, opts Options) []string {
	t.Helper()
	files, err := Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func equalStrings(a, b []string) bool {
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

func TestScan_ExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.md", "# notes")
	writeFile(t, root, "todo.txt", "todo")
	writeFile(t, root, "image.png", "png")
	writeFile(t, root, "sub/Deep.MD", "deep")

	got := relPaths(t, root, Options{Extensions: []string{".md"}})
	want := []string{"notes.md", "sub/Deep.MD"}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScan_SkipsHiddenAndExcluded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "a")
	writeFile(t, root, ".obsidian/config.md", "hidden")
	writeFile(t, root, "node_modules/pkg/readme.md", "dep")
	writeFile(t, root, "drafts/old.md", "draft")

	opts := DefaultOptions()
	opts.Exclude = append(opts.Exclude, "drafts/**")
	got := relPaths(t, root, opts)
	want := []string{"a.md"}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScan_IncludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "projects/kc/plan.md", "plan")
	writeFile(t, root, "journal/day.md", "day")

	got := relPaths(t, root, Options{Include: []string{"projects/**"}})
	if !equalStrings(got, []string{"projects/kc/plan.md"}) {
		t.Errorf("got %v", got)
	}
}

func TestScan_MaxDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "top.md", "0")
	writeFile(t, root, "a/one.md", "1")
	writeFile(t, root, "a/b/two.md", "2")

	got := relPaths(t, root, Options{MaxDepth: 1})
	want := []string{"a/one.md", "top.md"}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScan_SizeAndAge(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "empty.md", "")
	writeFile(t, root, "big.md", "0123456789")
	old := writeFile(t, root, "old.md", "old content")
	past := time.Now().Add(-400 * 24 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	got := relPaths(t, root, Options{MinSize: 1, MaxSize: 10, MaxAge: 365 * 24 * time.Hour})
	if !equalStrings(got, []string{"big.md"}) {
		t.Errorf("got %v", got)
	}
}

func TestScan_MarksDuplicates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "same body")
	writeFile(t, root, "b.md", "same body")
	writeFile(t, root, "c.md", "different")

	files, err := Scan(context.Background(), root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	if files[0].DuplicateOf != "" {
		t.Errorf("first copy should not be a duplicate")
	}
	if files[1].DuplicateOf != files[0].ID {
		t.Errorf("b.md DuplicateOf = %q, want %q", files[1].DuplicateOf, files[0].ID)
	}
	if files[0].ContentHash != files[1].ContentHash {
		t.Errorf("identical content should hash the same")
	}
	if files[2].DuplicateOf != "" {
		t.Errorf("c.md should not be a duplicate")
	}
}

func TestScan_RecordFields(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "sub/Note.MD", "hello")

	files, err := Scan(context.Background(), root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	f := files[0]
	abs, _ := filepath.Abs(path)
	if f.Path != abs {
		t.Errorf("Path = %q, want %q", f.Path, abs)
	}
	if f.Name != "Note.MD" || f.Extension != ".md" || f.Size != 5 {
		t.Errorf("unexpected record %+v", f)
	}
	if f.ID != FileID(abs) {
		t.Errorf("ID should be derived from the absolute path")
	}
}

func TestScan_NotADirectory(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "file.md", "x")
	if _, err := Scan(context.Background(), path, Options{}); err == nil {
		t.Fatal("expected error scanning a file")
	}
	if _, err := Scan(context.Background(), filepath.Join(root, "missing"), Options{}); err == nil {
		t.Fatal("expected error scanning a missing directory")
	}
}

func TestScan_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, root, Options{}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFileID_Stable(t *testing.T) {
	a := FileID("/tmp/notes/a.md")
	if a != FileID("/tmp/notes/./a.md") {
		t.Error("FileID should clean the path")
	}
	if a == FileID("/tmp/notes/b.md") {
		t.Error("different paths must yield different ids")
	}
}

func TestParseTimeWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"all", 0, false},
		{"1m", 30 * 24 * time.Hour, false},
		{"3M", 90 * 24 * time.Hour, false},
		{"6m", 180 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"2y", 730 * 24 * time.Hour, false},
		{"5d", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeWindow(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeWindow(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeWindow(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHashFile_Deterministic(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a", "content")
	b := writeFile(t, root, "b", "content")
	ha, err := HashFile(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := HashFile(b)
	if ha != hb || len(ha) != 64 {
		t.Errorf("hashes %q %q", ha, hb)
	}
}

func TestStat_MatchesScan(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "docs/a.md", "hello")

	files, err := Scan(context.Background(), root, Options{})
	if err != nil || len(files) != 1 {
		t.Fatalf("Scan = %v, %v", files, err)
	}
	rec, err := Stat(root, path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := files[0]
	if rec.ID != want.ID || rec.RelPath != "docs/a.md" || rec.ContentHash != want.ContentHash || rec.Extension != ".md" {
		t.Errorf("Stat = %+v, want %+v", rec, want)
	}

	if _, err := Stat(root, filepath.Join(t.TempDir(), "x.md"), Options{}); err == nil {
		t.Error("expected error for path outside root")
	}
	if _, err := Stat(root, filepath.Join(root, "docs"), Options{}); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := Stat(root, path, Options{MinSize: 100}); err == nil {
		t.Error("expected size limit error")
	}
}

func TestNormalizeExtensions(t *testing.T) {
	got := NormalizeExtensions([]string{"MD", ".txt", " pdf ", "", ".md"})
	if !equalStrings(got, []string{".md", ".txt", ".pdf"}) {
		t.Errorf("NormalizeExtensions = %v", got)
	}
}
