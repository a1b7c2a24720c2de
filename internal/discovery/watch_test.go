package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcher_ReportsMatchingChanges(t *testing.T) {
	root := t.TempDir()

	var (
		mu  sync.Mutex
		got []string
	)
	changed := make(chan struct{}, 8)
	w, err := NewWatcher(root, Options{Extensions: []string{".md"}}, func(_ context.Context, paths []string) {
		mu.Lock()
		got = append(got, paths...)
		mu.Unlock()
		changed <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeFile(t, root, "ignored.png", "x")
	writeFile(t, root, "note.md", "hello")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	mu.Lock()
	defer mu.Unlock()
	want := filepath.Join(w.root, "note.md")
	found := false
	for _, p := range got {
		if p == want {
			found = true
		}
		if filepath.Ext(p) == ".png" {
			t.Errorf("unexpected path %s", p)
		}
	}
	if !found {
		t.Errorf("expected %s in %v", want, got)
	}
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root := t.TempDir()

	changed := make(chan []string, 8)
	w, err := NewWatcher(root, Options{}, func(_ context.Context, paths []string) {
		changed <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the loop time to register the new directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, root, "sub/inner.txt", "inner")

	want := filepath.Join(w.root, "sub", "inner.txt")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case paths := <-changed:
			for _, p := range paths {
				if p == want {
					return
				}
			}
		case <-deadline:
			t.Fatalf("change in new directory not reported")
		}
	}
}

func TestWatcher_MissingRoot(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), Options{}, func(context.Context, []string) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing root")
	}
}
