package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

func (t keyType) String() string {
	return [...]string{"string", "integer", "bool", "number"}[t]
}

// parse converts command-line or environment text to the key's Go type.
func (t keyType) parse(raw string) (any, error) {
	var (
		v   any
		err error
	)
	switch t {
	case kInt:
		v, err = cast.ToIntE(raw)
	case kBool:
		v, err = cast.ToBoolE(raw)
	case kFloat:
		v, err = cast.ToFloat64E(raw)
	default:
		v = raw
	}
	if err != nil {
		return nil, fmt.Errorf("not a valid %s", t)
	}
	return v, nil
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "KC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "KC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "KC_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.analysis_model", typ: kString, env: "KC_OLLAMA_ANALYSIS_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.AnalysisModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.AnalysisModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "KC_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.keep_alive", typ: kString, env: "KC_OLLAMA_KEEP_ALIVE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.KeepAlive = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.KeepAlive },
	},
	{
		key: "providers.active", typ: kString, env: "KC_PROVIDERS_ACTIVE",
		apply:   func(cfg *Config, v any) { cfg.Providers.Active = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Active },
	},
	{
		key: "providers.fallback", typ: kString, env: "KC_PROVIDERS_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Providers.Fallback = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Fallback },
	},
	{
		key: "providers.timeout", typ: kString, env: "KC_PROVIDERS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Providers.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Timeout },
	},
	{
		key: "providers.openai_base_url", typ: kString, env: "KC_PROVIDERS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIBaseURL },
	},
	{
		key: "providers.openai_model", typ: kString, env: "KC_PROVIDERS_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIModel },
	},
	{
		key: "providers.openai_api_key", typ: kString, env: "KC_PROVIDERS_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIAPIKey },
	},
	{
		key: "providers.gemini_base_url", typ: kString, env: "KC_PROVIDERS_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.GeminiBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GeminiBaseURL },
	},
	{
		key: "providers.gemini_model", typ: kString, env: "KC_PROVIDERS_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.GeminiModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GeminiModel },
	},
	{
		key: "providers.gemini_api_key", typ: kString, env: "KC_PROVIDERS_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Providers.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GeminiAPIKey },
	},
	{
		key: "qdrant.url", typ: kString, env: "KC_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.URL },
	},
	{
		key: "qdrant.collection", typ: kString, env: "KC_QDRANT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.Collection },
	},
	{
		key: "qdrant.api_key", typ: kString, env: "KC_QDRANT_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Qdrant.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.APIKey },
	},
	{
		key: "pgvector.dsn", typ: kString, env: "KC_PGVECTOR_DSN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Pgvector.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Pgvector.DSN },
	},
	{
		key: "pgvector.table", typ: kString, env: "KC_PGVECTOR_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Pgvector.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Pgvector.Table },
	},
	{
		key: "discovery.max_file_size", typ: kInt, env: "KC_DISCOVERY_MAX_FILE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Discovery.MaxFileSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Discovery.MaxFileSize },
	},
	{
		key: "discovery.extensions", typ: kString, env: "KC_DISCOVERY_EXTENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Discovery.Extensions = v.(string) },
		extract: func(cfg Config) any { return cfg.Discovery.Extensions },
	},
	{
		key: "discovery.watch", typ: kBool, env: "KC_DISCOVERY_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Discovery.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Discovery.Watch },
	},
	{
		key: "analysis.concurrency", typ: kInt, env: "KC_ANALYSIS_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Analysis.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Analysis.Concurrency },
	},
	{
		key: "analysis.templates_file", typ: kString, env: "KC_ANALYSIS_TEMPLATES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Analysis.TemplatesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.TemplatesFile },
	},
	{
		key: "analysis.default_template", typ: kString, env: "KC_ANALYSIS_DEFAULT_TEMPLATE",
		apply:   func(cfg *Config, v any) { cfg.Analysis.DefaultTemplate = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.DefaultTemplate },
	},
	{
		key: "chunk.size", typ: kInt, env: "KC_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Size },
	},
	{
		key: "chunk.overlap", typ: kInt, env: "KC_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Overlap },
	},
	{
		key: "convergence.threshold", typ: kFloat, env: "KC_CONVERGENCE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Convergence.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Convergence.Threshold },
	},
	{
		key: "search.rerank", typ: kBool, env: "KC_SEARCH_RERANK",
		apply:   func(cfg *Config, v any) { cfg.Search.Rerank = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.Rerank },
	},
	{
		key: "search.rerank_timeout", typ: kString, env: "KC_SEARCH_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.RerankTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.RerankTimeout },
	},
	{
		key: "search.rerank_threshold", typ: kFloat, env: "KC_SEARCH_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Search.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.RerankThreshold },
	},
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key == key {
			return s, nil
		}
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// account is the secret-store account name for a secret key.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		switch s.typ {
		case kString:
			v, ok, err = b.GetString(s.key)
		case kInt:
			v, ok, err = b.GetInt(s.key)
		case kBool:
			v, ok, err = b.GetBool(s.key)
		case kFloat:
			v, ok, err = b.GetFloat(s.key)
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// applyEnvOverrides lets KC_* variables win over stored values. A value that
// does not parse is reported and skipped.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if s.env == "" || !ok || raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
