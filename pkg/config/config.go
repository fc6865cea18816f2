package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/askcache/pkg/models"
)

// Config holds all askcache configuration.
type Config struct {
	Listen      string                `yaml:"listen"`
	DBPath      string                `yaml:"db_path"`
	DatasetPath string                `yaml:"dataset_path"`
	LogLevel    string                `yaml:"log_level"`
	Language    string                `yaml:"language"`
	LLM         LLMConfig             `yaml:"llm"`
	Embedding   EmbeddingConfig       `yaml:"embedding"`
	Validator   ValidatorConfig       `yaml:"validator"`
	AnswerCache AnswerCacheConfig     `yaml:"answer_cache"`
	SQLCache    SQLCacheConfig        `yaml:"sql_cache"`
	Store       StoreConfig           `yaml:"store"`
	Cleanup     CleanupConfig         `yaml:"cleanup"`
	QueryLog    models.QueryLogConfig `yaml:"query_log"`
	Executor    ExecutorConfig        `yaml:"executor"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float32       `yaml:"temperature"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint. An
// empty model disables embeddings.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ValidatorConfig controls the equivalence check on semantic matches. An
// empty model reuses the LLM model.
type ValidatorConfig struct {
	Enabled bool          `yaml:"enabled"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// AnswerCacheConfig controls the question-level cache.
type AnswerCacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Semantic            bool          `yaml:"semantic"`
	TTL                 time.Duration `yaml:"ttl"`
	Capacity            int           `yaml:"capacity"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	SemanticSearchLimit int           `yaml:"semantic_search_limit"`
	MinResponseLength   int           `yaml:"min_response_length"`
}

// SQLCacheConfig controls the result-set cache.
type SQLCacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// StoreConfig tunes the persistent cache store.
type StoreConfig struct {
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// CleanupConfig controls the expiry sweeper.
type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ExecutorConfig bounds dataset queries.
type ExecutorConfig struct {
	MaxRows int           `yaml:"max_rows"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		DBPath:      "askcache.db",
		DatasetPath: "dataset.db",
		LogLevel:    "info",
		Language:    "en",
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    5 * time.Second,
		},
		Validator: ValidatorConfig{
			Enabled: true,
			Timeout: 10 * time.Second,
		},
		AnswerCache: AnswerCacheConfig{
			Enabled:             true,
			Semantic:            true,
			TTL:                 720 * time.Hour,
			Capacity:            1000,
			SimilarityThreshold: 0.92,
			SemanticSearchLimit: 200,
			MinResponseLength:   20,
		},
		SQLCache: SQLCacheConfig{
			Enabled:  true,
			TTL:      time.Hour,
			Capacity: 200,
		},
		Store: StoreConfig{
			BusyTimeout:    5 * time.Second,
			MaxRetries:     5,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     800 * time.Millisecond,
		},
		Cleanup: CleanupConfig{
			Interval: time.Hour,
		},
		QueryLog: models.QueryLogConfig{
			Enabled:       true,
			DBPath:        "askcache_log.db",
			RetentionDays: 30,
		},
		Executor: ExecutorConfig{
			MaxRows: 1000,
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Language != "en" && c.Language != "es" {
		errs = append(errs, fmt.Errorf("language: unsupported %q", c.Language))
	}
	if c.AnswerCache.SimilarityThreshold < 0 || c.AnswerCache.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("answer_cache.similarity_threshold: %v outside [0, 1]", c.AnswerCache.SimilarityThreshold))
	}
	if c.AnswerCache.Capacity <= 0 {
		errs = append(errs, errors.New("answer_cache.capacity must be positive"))
	}
	if c.AnswerCache.TTL <= 0 {
		errs = append(errs, errors.New("answer_cache.ttl must be positive"))
	}
	if c.AnswerCache.SemanticSearchLimit <= 0 {
		errs = append(errs, errors.New("answer_cache.semantic_search_limit must be positive"))
	}
	if c.AnswerCache.MinResponseLength < 0 {
		errs = append(errs, errors.New("answer_cache.min_response_length must not be negative"))
	}
	if c.SQLCache.Capacity <= 0 {
		errs = append(errs, errors.New("sql_cache.capacity must be positive"))
	}
	if c.SQLCache.TTL <= 0 {
		errs = append(errs, errors.New("sql_cache.ttl must be positive"))
	}
	if c.Store.MaxRetries < 0 {
		errs = append(errs, errors.New("store.max_retries must not be negative"))
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, errors.New("embedding.dimensions must not be negative"))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are valid but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.SQLCache.Capacity > c.AnswerCache.Capacity {
		w = append(w, "sql_cache.capacity exceeds answer_cache.capacity; result sets are larger than answers")
	}
	if c.AnswerCache.Enabled && c.AnswerCache.Semantic && !c.Validator.Enabled {
		w = append(w, "answer_cache.semantic is on but the validator is disabled; only exact matches will be served")
	}
	if c.AnswerCache.Enabled && c.AnswerCache.Semantic && c.Embedding.Model == "" {
		w = append(w, "answer_cache.semantic is on but no embedding model is configured")
	}
	return w
}
