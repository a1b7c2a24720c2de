//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "kc", "secrets.json")
}

// secretsFile is the fallback secret store: service -> account -> value,
// kept in a 0600 JSON file next to the data directory.
type secretsFile map[string]map[string]string

func readSecretsFile(p string) (secretsFile, error) {
	sf := secretsFile{}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return sf, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	return sf, nil
}

func (sf secretsFile) write(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, raw, 0o600)
}

func keychainGet(service, account string) ([]byte, error) {
	sf, err := readSecretsFile(secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, ok := sf[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	sf, err := readSecretsFile(p)
	if err != nil {
		return err
	}
	if sf[service] == nil {
		sf[service] = map[string]string{}
	}
	sf[service][account] = value
	return sf.write(p)
}

func keychainDelete(service, account string) error {
	p := secretsFilePath()
	sf, err := readSecretsFile(p)
	if err != nil {
		return err
	}
	if _, ok := sf[service][account]; !ok {
		return nil
	}
	delete(sf[service], account)
	return sf.write(p)
}
