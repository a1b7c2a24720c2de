package config

import (
	"strings"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	Ollama      OllamaConfig
	Providers   ProvidersConfig
	Qdrant      QdrantConfig
	Pgvector    PgvectorConfig
	Discovery   DiscoveryConfig
	Analysis    AnalysisConfig
	Chunk       ChunkConfig
	Convergence ConvergenceConfig
	Search      SearchConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL       string
	AnalysisModel string
	EmbedModel    string
	// KeepAlive is passed to Ollama on every call ("" keeps its default).
	KeepAlive string
}

type ProvidersConfig struct {
	Active        string
	Fallback      string // comma-separated provider names
	Timeout       string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	GeminiAPIKey  string
}

type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
}

type PgvectorConfig struct {
	DSN   string
	Table string
}

type DiscoveryConfig struct {
	MaxFileSize int
	Extensions  string // comma-separated, with leading dots
	Watch       bool
}

type AnalysisConfig struct {
	Concurrency     int
	TemplatesFile   string
	DefaultTemplate string
}

type ChunkConfig struct {
	Size    int
	Overlap int
}

type ConvergenceConfig struct {
	Threshold float64
}

type SearchConfig struct {
	Rerank          bool
	RerankTimeout   string
	RerankThreshold float64
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			AnalysisModel: "llama3.2",
			EmbedModel:    "nomic-embed-text",
			KeepAlive:     "10m",
		},
		Providers: ProvidersConfig{
			Active:        "ollama",
			Fallback:      "openai,gemini",
			Timeout:       "120s",
			OpenAIBaseURL: "https://api.openai.com",
			OpenAIModel:   "gpt-4o-mini",
			GeminiBaseURL: "https://generativelanguage.googleapis.com",
			GeminiModel:   "gemini-1.5-flash",
		},
		Qdrant: QdrantConfig{
			URL:        "http://localhost:6333",
			Collection: "knowledge_consolidator",
		},
		Pgvector: PgvectorConfig{Table: "kc_chunks"},
		Discovery: DiscoveryConfig{
			MaxFileSize: 10 << 20,
			Extensions:  ".md,.txt,.docx,.pdf,.html,.json,.csv,.gdoc",
		},
		Analysis: AnalysisConfig{
			Concurrency:     2,
			DefaultTemplate: "decisiveMoments",
		},
		Chunk:       ChunkConfig{Size: 1000, Overlap: 200},
		Convergence: ConvergenceConfig{Threshold: 0.75},
		Search:      SearchConfig{RerankTimeout: "5s", RerankThreshold: 0.3},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.kc.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/kc/config.json
// and secrets are read from $XDG_DATA_HOME/kc/secrets.json.
//
// Environment variables (KC_*) override backend values on all platforms.
// Provider API keys are optional: a provider without a key is simply unavailable.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	return cfg, nil
}

// applySecrets fills secret keys still empty after env overrides.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// ExtensionList returns the configured discovery extensions, lower-cased.
func (c DiscoveryConfig) ExtensionList() []string {
	var out []string
	for _, e := range strings.Split(c.Extensions, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// FallbackList returns the configured provider fallback order.
func (c ProvidersConfig) FallbackList() []string {
	var out []string
	for _, p := range strings.Split(c.Fallback, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
