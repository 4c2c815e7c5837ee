// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (DATABASE_URL, QUIVER_*)
//  2. Config file (~/.quiver/config.yaml or ./config.yaml)
//  3. Default values
//
// Every tunable has an explicit default set in setDefaults; nothing is
// implicit. Validation is fail-fast with sentinel errors so callers can
// use errors.Is. Secrets are masked in MarshalJSON and String.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidEmbeddingDimension indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidSearchLimits indicates top-k / rerank candidate bounds are invalid.
	ErrInvalidSearchLimits = errors.New("invalid search limits")

	// ErrInvalidWorkerCount indicates the ingest worker count is out of range.
	ErrInvalidWorkerCount = errors.New("invalid worker count")

	// ErrInvalidModelEndpoint indicates the model base URL is malformed.
	ErrInvalidModelEndpoint = errors.New("invalid model endpoint")
)

// EmbeddingDimension values supported by the migration schema. The
// document_chunks.embedding column is created with this width; changing
// it requires a new migration, so validation pins the two together.
const SchemaEmbeddingDimension = 1024

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// HTTP server
	HTTPAddr string `mapstructure:"http_addr" json:"http_addr"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Model gateway configuration. The embedding and rerank endpoints
	// share one OpenAI-compatible base URL and API key.
	ModelBaseURL       string        `mapstructure:"model_base_url" json:"model_base_url"`
	ModelAPIKey        string        `mapstructure:"model_api_key" json:"model_api_key"` // SENSITIVE
	ModelTimeout       time.Duration `mapstructure:"model_timeout" json:"model_timeout"`
	ModelRatePerSecond float64       `mapstructure:"model_rate_per_second" json:"model_rate_per_second"`
	ModelRateBurst     int           `mapstructure:"model_rate_burst" json:"model_rate_burst"`
	EmbeddingModel     string        `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingDimension int           `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	RerankModel        string        `mapstructure:"rerank_model" json:"rerank_model"`

	// Ingestion configuration
	ChunkSizeTokens    int   `mapstructure:"chunk_size_tokens" json:"chunk_size_tokens"`
	ChunkOverlapTokens int   `mapstructure:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`
	MaxDocumentBytes   int64 `mapstructure:"max_document_bytes" json:"max_document_bytes"`
	IngestWorkers      int   `mapstructure:"ingest_workers" json:"ingest_workers"`

	// Search configuration
	MaxTopK             int `mapstructure:"max_top_k" json:"max_top_k"`
	MaxRerankCandidates int `mapstructure:"max_rerank_candidates" json:"max_rerank_candidates"`

	// HNSWEfSearch is the query-time search breadth for the vector
	// index. Applied per query with SET LOCAL, so it is adjustable
	// without rebuilding the index.
	HNSWEfSearch int `mapstructure:"hnsw_ef_search" json:"hnsw_ef_search"`

	// Cleanup executor configuration
	CleanupMaxAttempts int           `mapstructure:"cleanup_max_attempts" json:"cleanup_max_attempts"`
	CleanupBackoffBase time.Duration `mapstructure:"cleanup_backoff_base" json:"cleanup_backoff_base"`

	// Observability configuration
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
	LogJSON      bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".quiver"))
	}
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "127.0.0.1:8080")

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quiver")
	v.SetDefault("postgres_password", "quiver_dev_password")
	v.SetDefault("postgres_db_name", "quiver")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Model gateway defaults (OpenAI-compatible endpoints)
	v.SetDefault("model_base_url", "https://api.siliconflow.cn/v1")
	v.SetDefault("model_timeout", 30*time.Second)
	v.SetDefault("model_rate_per_second", 8.0)
	v.SetDefault("model_rate_burst", 4)
	v.SetDefault("embedding_model", "BAAI/bge-m3")
	v.SetDefault("embedding_dimension", SchemaEmbeddingDimension)
	v.SetDefault("rerank_model", "BAAI/bge-reranker-v2-m3")

	// Ingestion defaults
	v.SetDefault("chunk_size_tokens", 400)
	v.SetDefault("chunk_overlap_tokens", 80)
	v.SetDefault("max_document_bytes", int64(20<<20))
	v.SetDefault("ingest_workers", 4)

	// Search defaults
	v.SetDefault("max_top_k", 50)
	v.SetDefault("max_rerank_candidates", 64)
	v.SetDefault("hnsw_ef_search", 80)

	// Cleanup defaults: 3 attempts with 1m, 2m, 4m backoff
	v.SetDefault("cleanup_max_attempts", 3)
	v.SetDefault("cleanup_backoff_base", time.Minute)

	// Observability defaults (empty endpoint = tracing disabled)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("environment", "dev")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
// DATABASE_URL is handled separately in parseDatabaseURL.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a failure is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("http_addr", "QUIVER_HTTP_ADDR")
	mustBind("model_api_key", "QUIVER_MODEL_API_KEY")
	mustBind("model_base_url", "QUIVER_MODEL_BASE_URL")
	mustBind("embedding_model", "QUIVER_EMBEDDING_MODEL")
	mustBind("rerank_model", "QUIVER_RERANK_MODEL")
	mustBind("otlp_endpoint", "QUIVER_OTLP_ENDPOINT")
	mustBind("log_json", "QUIVER_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep the first and last two characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.ModelAPIKey = maskSecret(a.ModelAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
