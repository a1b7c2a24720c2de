//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileKeychainRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	kc := NewKeychain()
	if _, err := kc.Get(secretService, "qdrant_api_key"); err == nil {
		t.Fatal("expected error before anything is stored")
	}
	if err := kc.Set(secretService, "qdrant_api_key", "s3cret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kc.Get(secretService, "qdrant_api_key")
	if err != nil || got != "s3cret" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	info, err := os.Stat(filepath.Join(dir, "kc", "secrets.json"))
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}

	if err := kc.Delete(secretService, "qdrant_api_key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kc.Get(secretService, "qdrant_api_key"); err == nil {
		t.Error("expected error after delete")
	}
	if err := kc.Delete(secretService, "qdrant_api_key"); err != nil {
		t.Errorf("deleting a missing secret: %v", err)
	}
}

func TestFileBackendTypedValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	b := newPlatformBackend()
	if err := b.SetBool("discovery.watch", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	if err := b.SetFloat("convergence.threshold", 0.8); err != nil {
		t.Fatalf("SetFloat: %v", err)
	}

	// Reload from disk.
	b = newPlatformBackend()
	if v, ok, err := b.GetBool("discovery.watch"); err != nil || !ok || !v {
		t.Errorf("GetBool = %v, %v, %v", v, ok, err)
	}
	if v, ok, err := b.GetFloat("convergence.threshold"); err != nil || !ok || v != 0.8 {
		t.Errorf("GetFloat = %v, %v, %v", v, ok, err)
	}
	if _, ok, _ := b.GetBool("search.rerank"); ok {
		t.Error("unset key reported as set")
	}
}
