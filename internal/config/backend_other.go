//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cast"
)

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "kc")
}

func secretStoreHint() string {
	return secretsFilePath()
}

// xdgDir resolves an XDG base directory, falling back to $HOME/<rel...>
// and finally to the working directory.
func xdgDir(env string, rel ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, rel...)...)
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "kc", "config.json")
}

// fileBackend keeps config in one flat JSON object keyed by dotted names:
//
//	{"server.port": 4100, "discovery.watch": true}
type fileBackend struct {
	path   string
	values map[string]any
}

func newPlatformBackend() ConfigBackend {
	b := &fileBackend{path: configFilePath(), values: map[string]any{}}
	if err := b.load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring config file %s: %v\n", b.path, err)
		b.values = map[string]any{}
	}
	return b
}

func (b *fileBackend) load() error {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &b.values)
}

// put updates one key and rewrites the file through a temp file so a crash
// never leaves half a config behind.
func (b *fileBackend) put(key string, v any) error {
	if v == nil {
		delete(b.values, key)
	} else {
		b.values[key] = v
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

func (b *fileBackend) lookup(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	return typed(key, v, ok, cast.ToStringE)
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	return typed(key, v, ok, toInt)
}

func (b *fileBackend) GetBool(key string) (bool, bool, error) {
	v, ok := b.lookup(key)
	return typed(key, v, ok, cast.ToBoolE)
}

func (b *fileBackend) GetFloat(key string) (float64, bool, error) {
	v, ok := b.lookup(key)
	return typed(key, v, ok, cast.ToFloat64E)
}

func (b *fileBackend) SetString(key, val string) error { return b.put(key, val) }
func (b *fileBackend) SetInt(key string, val int) error { return b.put(key, val) }
func (b *fileBackend) SetBool(key string, val bool) error { return b.put(key, val) }
func (b *fileBackend) SetFloat(key string, val float64) error { return b.put(key, val) }
func (b *fileBackend) Delete(key string) error { return b.put(key, nil) }
