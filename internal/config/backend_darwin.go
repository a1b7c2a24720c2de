//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

const defaultsDomain = "com.kc.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kc-data"
	}
	return filepath.Join(home, "Library", "Application Support", "kc")
}

func secretStoreHint() string {
	return "macOS Keychain (service: kc)"
}

// defaultsBackend stores config in UserDefaults through the defaults tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

// read returns the printed value. defaults exits 1 for a missing key.
func (b defaultsBackend) read(key string) (any, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	text := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("defaults read %s: %w: %s", key, err, text)
	}
	return text, true, nil
}

func (b defaultsBackend) write(key, kind, val string) error {
	out, err := exec.Command("defaults", "write", b.domain, key, kind, val).CombinedOutput()
	if err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	v, ok, err := b.read(key)
	if err != nil {
		return "", false, err
	}
	return typed(key, v, ok, cast.ToStringE)
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.read(key)
	if err != nil {
		return 0, false, err
	}
	return typed(key, v, ok, toInt)
}

// GetBool accepts the 1/0 that defaults prints for -bool values.
func (b defaultsBackend) GetBool(key string) (bool, bool, error) {
	v, ok, err := b.read(key)
	if err != nil {
		return false, false, err
	}
	return typed(key, v, ok, cast.ToBoolE)
}

func (b defaultsBackend) GetFloat(key string) (float64, bool, error) {
	v, ok, err := b.read(key)
	if err != nil {
		return 0, false, err
	}
	return typed(key, v, ok, cast.ToFloat64E)
}

func (b defaultsBackend) SetString(key, val string) error { return b.write(key, "-string", val) }
func (b defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}
func (b defaultsBackend) SetBool(key string, val bool) error {
	return b.write(key, "-bool", strconv.FormatBool(val))
}
func (b defaultsBackend) SetFloat(key string, val float64) error {
	return b.write(key, "-float", strconv.FormatFloat(val, 'g', -1, 64))
}

func (b defaultsBackend) Delete(key string) error {
	return exec.Command("defaults", "delete", b.domain, key).Run()
}
