package config

import (
	"errors"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m mockKeychain) Set(service, account, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[service+"/"+account] = value
	return nil
}

func (m mockKeychain) Delete(service, account string) error {
	delete(m.values, service+"/"+account)
	return nil
}

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]any
}

func newMemBackend(data map[string]any) *memBackend {
	if data == nil {
		data = map[string]any{}
	}
	return &memBackend{data: data}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", true, errors.New("not a string")
	}
	return s, true, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (b *memBackend) GetBool(key string) (bool, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return false, false, nil
	}
	bv, isBool := v.(bool)
	if !isBool {
		return false, true, errors.New("not a bool")
	}
	return bv, true, nil
}

func (b *memBackend) GetFloat(key string) (float64, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	f, isFloat := v.(float64)
	if !isFloat {
		return 0, true, errors.New("not a float")
	}
	return f, true, nil
}

func (b *memBackend) SetString(key, val string) error      { b.data[key] = val; return nil }
func (b *memBackend) SetInt(key string, val int) error      { b.data[key] = val; return nil }
func (b *memBackend) SetBool(key string, val bool) error    { b.data[key] = val; return nil }
func (b *memBackend) SetFloat(key string, val float64) error { b.data[key] = val; return nil }
func (b *memBackend) Delete(key string) error               { delete(b.data, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(nil), mockKeychain{values: map[string]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.Qdrant.Collection != "knowledge_consolidator" {
		t.Errorf("Qdrant.Collection = %q", cfg.Qdrant.Collection)
	}
	if cfg.Providers.Active != "ollama" {
		t.Errorf("Providers.Active = %q", cfg.Providers.Active)
	}
	if cfg.Chunk.Size != 1000 || cfg.Chunk.Overlap != 200 {
		t.Errorf("Chunk = %+v", cfg.Chunk)
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey should default to empty, got %q", cfg.Providers.OpenAIAPIKey)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{
		"server.port":           5000,
		"ollama.analysis_model": "mistral",
		"discovery.watch":       true,
		"convergence.threshold": 0.6,
	})
	cfg, err := loadWith(b, mockKeychain{values: map[string]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Ollama.AnalysisModel != "mistral" {
		t.Errorf("Ollama.AnalysisModel = %q", cfg.Ollama.AnalysisModel)
	}
	if !cfg.Discovery.Watch {
		t.Error("Discovery.Watch = false, want true")
	}
	if cfg.Convergence.Threshold != 0.6 {
		t.Errorf("Convergence.Threshold = %v", cfg.Convergence.Threshold)
	}
}

func TestBackendSkipsSecrets(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{"providers.openai_api_key": "leaked"})
	cfg, err := loadWith(b, mockKeychain{values: map[string]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		t.Errorf("secret read from plain backend: %q", cfg.Providers.OpenAIAPIKey)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("KC_SERVER_PORT", "6000")
	t.Setenv("KC_PROVIDERS_OPENAI_API_KEY", "env-key")
	t.Setenv("KC_CHUNK_SIZE", "not-a-number")

	b := newMemBackend(map[string]any{"server.port": 5000})
	kc := mockKeychain{values: map[string]string{"kc/providers_openai_api_key": "keychain-key"}}
	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Providers.OpenAIAPIKey != "env-key" {
		t.Errorf("OpenAIAPIKey = %q, want env-key", cfg.Providers.OpenAIAPIKey)
	}
	if cfg.Chunk.Size != 1000 {
		t.Errorf("invalid env value should keep default, got %d", cfg.Chunk.Size)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{values: map[string]string{
		"kc/providers_gemini_api_key": "gem-secret",
		"kc/qdrant_api_key":           "qd-secret",
	}}
	cfg, err := loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.GeminiAPIKey != "gem-secret" {
		t.Errorf("GeminiAPIKey = %q", cfg.Providers.GeminiAPIKey)
	}
	if cfg.Qdrant.APIKey != "qd-secret" {
		t.Errorf("Qdrant.APIKey = %q", cfg.Qdrant.APIKey)
	}
}

func TestGetAPIToken_GeneratesOnce(t *testing.T) {
	kc := mockKeychain{values: map[string]string{}}

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Error("token regenerated on second call")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend(nil)

	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b.data["server.port"] != 4200 {
		t.Errorf("server.port = %v", b.data["server.port"])
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "discovery.watch", "maybe"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKey(b, "discovery.watch", "true"); err != nil {
		t.Fatalf("setKey(bool): %v", err)
	}
	if b.data["discovery.watch"] != true {
		t.Errorf("discovery.watch = %#v, want bool true", b.data["discovery.watch"])
	}
	if err := setKey(b, "search.rerank_threshold", "0.45"); err != nil {
		t.Fatalf("setKey(float): %v", err)
	}
	if b.data["search.rerank_threshold"] != 0.45 {
		t.Errorf("search.rerank_threshold = %#v, want 0.45", b.data["search.rerank_threshold"])
	}
	if err := setKey(b, "providers.openai_api_key", "x"); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("setKey(secret) = %v", err)
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestBackendTypeMismatch(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{"discovery.watch": "yes please"})
	if _, err := loadWith(b, mockKeychain{values: map[string]string{}}); err == nil {
		t.Fatal("expected error for a non-bool discovery.watch")
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{"chunk.size": 400})
	if err := unsetKey(b, "chunk.size"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	cfg, err := loadWith(b, mockKeychain{values: map[string]string{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chunk.Size != 1000 {
		t.Errorf("Chunk.Size = %d, want default 1000", cfg.Chunk.Size)
	}
	if err := unsetKey(b, "qdrant.api_key"); err == nil {
		t.Error("expected error when unsetting a secret")
	}
	if err := unsetKey(b, "nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestDeleteSecret(t *testing.T) {
	kc := mockKeychain{values: map[string]string{"kc/providers_gemini_api_key": "g"}}
	if err := DeleteSecret(kc, "providers.gemini_api_key"); err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	if _, ok := kc.values["kc/providers_gemini_api_key"]; ok {
		t.Error("secret still stored")
	}
	if err := DeleteSecret(kc, "log.level"); err == nil {
		t.Error("expected error for non-secret key")
	}
}

func TestSetSecret(t *testing.T) {
	kc := mockKeychain{values: map[string]string{}}
	if err := SetSecret(kc, "qdrant.api_key", "abc"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	if kc.values["kc/qdrant_api_key"] != "abc" {
		t.Errorf("stored = %v", kc.values)
	}
	if err := SetSecret(kc, "server.port", "1"); err == nil {
		t.Error("expected error for non-secret key")
	}
}

func TestExtensionList(t *testing.T) {
	d := DiscoveryConfig{Extensions: " .MD, txt ,,.pdf"}
	got := d.ExtensionList()
	want := []string{".md", ".txt", ".pdf"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ExtensionList = %v, want %v", got, want)
	}
}
