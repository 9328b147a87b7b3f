// Package config loads the memex configuration snapshot from defaults,
// the .memex.yaml file, and MEMEX_* environment variables, in that order.
// Command-line flags are applied on top by the CLI layer. The snapshot is
// immutable after startup.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// Provider names.
const (
	ProviderLocal  = "local"
	ProviderAzure  = "azure"
	ProviderStatic = "static"
)

// Keyword backend names.
const (
	KeywordBackendFTS5  = "fts5"
	KeywordBackendBleve = "bleve"
)

// ConfigFileName is the per-corpus configuration file.
const ConfigFileName = ".memex.yaml"

// DefaultIndexName is the logical index name when none is configured.
const DefaultIndexName = "memory-exchange"

// Config is the complete memex configuration.
type Config struct {
	// SourcePath is the corpus root. Required for indexing and get_file.
	SourcePath string `yaml:"source_path"`

	// Provider selects the embedder + store pair: local, azure, or static.
	Provider string `yaml:"provider"`

	// IndexName is the logical index name.
	IndexName string `yaml:"index_name"`

	// DatabasePath is the local store file; defaults to
	// <source_path>/memory_exchange.db.
	DatabasePath string `yaml:"database_path"`

	// ModelPath overrides the local embedder model file.
	ModelPath string `yaml:"model_path"`

	// KeywordBackend selects fts5 (default) or bleve for the BM25 pass.
	KeywordBackend string `yaml:"keyword_backend"`

	// ExcludePatterns are scanner globs applied in addition to the
	// hardcoded personal/ exclusion.
	ExcludePatterns []string `yaml:"exclude_patterns"`

	// BuildIndex runs one indexing pass before serving.
	BuildIndex bool `yaml:"build_index"`

	// Watch runs the watch loop (implies an indexing pass on startup).
	Watch bool `yaml:"watch"`

	// DebounceSeconds overrides the watcher debounce window.
	DebounceSeconds float64 `yaml:"debounce_seconds"`

	// EmbeddingCacheSize bounds the query-embedding LRU cache.
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`

	Azure   AzureConfig   `yaml:"azure"`
	Logging LoggingConfig `yaml:"logging"`
}

// AzureConfig holds the hosted-provider endpoints and keys.
type AzureConfig struct {
	EmbeddingEndpoint   string `yaml:"embedding_endpoint"`
	EmbeddingKey        string `yaml:"embedding_key"`
	EmbeddingDeployment string `yaml:"embedding_deployment"`
	SearchEndpoint      string `yaml:"search_endpoint"`
	SearchKey           string `yaml:"search_key"`
	SearchIndexName     string `yaml:"search_index_name"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Provider:           ProviderLocal,
		IndexName:          DefaultIndexName,
		KeywordBackend:     KeywordBackendFTS5,
		DebounceSeconds:    2,
		EmbeddingCacheSize: 1000,
		Logging:            LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration snapshot: defaults, then .memex.yaml from
// dir (or the working directory when dir is empty), then environment.
func Load(dir string) (*Config, error) {
	cfg := New()

	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, memexerrors.ConfigError("parse "+path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, memexerrors.IOError("read "+path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overlays MEMEX_* environment variables.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}

	setString("MEMEX_SOURCE_PATH", &c.SourcePath)
	setString("MEMEX_PROVIDER", &c.Provider)
	setString("MEMEX_INDEX_NAME", &c.IndexName)
	setString("MEMEX_DATABASE_PATH", &c.DatabasePath)
	setString("MEMEX_MODEL_PATH", &c.ModelPath)
	setString("MEMEX_KEYWORD_BACKEND", &c.KeywordBackend)
	setBool("MEMEX_BUILD_INDEX", &c.BuildIndex)
	setBool("MEMEX_WATCH", &c.Watch)
	setString("MEMEX_LOG_LEVEL", &c.Logging.Level)

	if v, ok := os.LookupEnv("MEMEX_EXCLUDE_PATTERNS"); ok && v != "" {
		var patterns []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		c.ExcludePatterns = patterns
	}

	setString("MEMEX_AZURE_EMBEDDING_ENDPOINT", &c.Azure.EmbeddingEndpoint)
	setString("MEMEX_AZURE_EMBEDDING_KEY", &c.Azure.EmbeddingKey)
	setString("MEMEX_AZURE_EMBEDDING_DEPLOYMENT", &c.Azure.EmbeddingDeployment)
	setString("MEMEX_AZURE_SEARCH_ENDPOINT", &c.Azure.SearchEndpoint)
	setString("MEMEX_AZURE_SEARCH_KEY", &c.Azure.SearchKey)
	setString("MEMEX_AZURE_SEARCH_INDEX", &c.Azure.SearchIndexName)
}

// applyDefaults fills values derivable from others.
func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	c.Provider = strings.ToLower(c.Provider)

	if c.IndexName == "" {
		c.IndexName = DefaultIndexName
	}
	if c.KeywordBackend == "" {
		c.KeywordBackend = KeywordBackendFTS5
	}
	c.KeywordBackend = strings.ToLower(c.KeywordBackend)

	if c.DatabasePath == "" && c.SourcePath != "" {
		c.DatabasePath = filepath.Join(c.SourcePath, "memory_exchange.db")
	}
	if c.DebounceSeconds <= 0 {
		c.DebounceSeconds = 2
	}
	if c.Azure.SearchIndexName == "" {
		c.Azure.SearchIndexName = c.IndexName
	}
	if c.Watch {
		// Watch mode runs an indexing pass on startup regardless.
		c.BuildIndex = true
	}
}

// Finalize re-derives dependent defaults after flag overrides. Idempotent.
func (c *Config) Finalize() {
	c.applyDefaults()
}

// Debounce returns the watcher debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// Validate checks the snapshot for refusable configurations.
func (c *Config) Validate() error {
	if c.SourcePath == "" {
		return memexerrors.Newf(memexerrors.ErrCodeConfigMissingPath,
			"source_path is required; set it in %s, MEMEX_SOURCE_PATH, or --source", ConfigFileName)
	}

	switch c.Provider {
	case ProviderLocal, ProviderStatic:
	case ProviderAzure:
		if c.Azure.EmbeddingEndpoint == "" || c.Azure.EmbeddingKey == "" {
			return memexerrors.ConfigError("azure provider requires embedding endpoint and key", nil)
		}
		if c.Azure.SearchEndpoint == "" || c.Azure.SearchKey == "" {
			return memexerrors.ConfigError("azure provider requires search endpoint and key", nil)
		}
	default:
		return memexerrors.ConfigError("unknown provider: "+c.Provider, nil)
	}

	switch c.KeywordBackend {
	case KeywordBackendFTS5, KeywordBackendBleve:
	default:
		return memexerrors.ConfigError("unknown keyword backend: "+c.KeywordBackend, nil)
	}

	return nil
}
