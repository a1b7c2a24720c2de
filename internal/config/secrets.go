package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	secretService   = "kc"
	apiTokenAccount = "api_token"
)

// Keychain reads and writes secrets in the platform secret store.
type Keychain struct{}

func NewKeychain() Keychain { return Keychain{} }

func (Keychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (Keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

func (Keychain) Delete(service, account string) error {
	return keychainDelete(service, account)
}

// SecretStore is implemented by Keychain and test doubles.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// GetAPIToken returns the bearer token guarding the local API, generating
// and storing a new one on first use.
func GetAPIToken(store SecretStore) (string, error) {
	if tok, err := store.Get(secretService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := store.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return tok, nil
}

// SetSecret stores a secret config key (e.g. providers.openai_api_key).
func SetSecret(store SecretStore, key, value string) error {
	s, err := secretSpec(key)
	if err != nil {
		return err
	}
	return store.Set(secretService, s.account(), value)
}

// DeleteSecret removes a secret config key. Removing a missing secret is
// not an error.
func DeleteSecret(store interface {
	Delete(service, account string) error
}, key string) error {
	s, err := secretSpec(key)
	if err != nil {
		return err
	}
	return store.Delete(secretService, s.account())
}

func secretSpec(key string) (keySpec, error) {
	s, err := lookupSpec(key)
	if err == nil && !s.secret {
		err = fmt.Errorf("%q is not a secret; use config set", key)
	}
	return s, err
}
