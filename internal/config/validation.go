package config

import (
	"fmt"
	"net/url"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for consistency. It is called by
// Load and fails fast with sentinel errors.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if u, err := url.Parse(c.ModelBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidModelEndpoint, c.ModelBaseURL)
	}

	// The chunk embedding column width is fixed by the migration; a
	// mismatched dimension would fail on the first insert, so reject it
	// up front.
	if c.EmbeddingDimension != SchemaEmbeddingDimension {
		return fmt.Errorf("%w: got %d, schema requires %d",
			ErrInvalidEmbeddingDimension, c.EmbeddingDimension, SchemaEmbeddingDimension)
	}

	if c.ChunkSizeTokens < 1 {
		return fmt.Errorf("%w: chunk_size_tokens must be >= 1, got %d", ErrInvalidChunking, c.ChunkSizeTokens)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkSizeTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens %d must be in [0, chunk_size_tokens)", ErrInvalidChunking, c.ChunkOverlapTokens)
	}
	if c.MaxDocumentBytes < 1 {
		return fmt.Errorf("%w: max_document_bytes must be >= 1, got %d", ErrInvalidChunking, c.MaxDocumentBytes)
	}

	if c.MaxTopK < 1 {
		return fmt.Errorf("%w: max_top_k must be >= 1, got %d", ErrInvalidSearchLimits, c.MaxTopK)
	}
	if c.MaxRerankCandidates < c.MaxTopK {
		return fmt.Errorf("%w: max_rerank_candidates %d must be >= max_top_k %d",
			ErrInvalidSearchLimits, c.MaxRerankCandidates, c.MaxTopK)
	}
	if c.HNSWEfSearch < 1 {
		return fmt.Errorf("%w: hnsw_ef_search must be >= 1, got %d", ErrInvalidSearchLimits, c.HNSWEfSearch)
	}

	if c.IngestWorkers < 1 || c.IngestWorkers > 64 {
		return fmt.Errorf("%w: ingest_workers %d out of range [1, 64]", ErrInvalidWorkerCount, c.IngestWorkers)
	}
	if c.CleanupMaxAttempts < 1 {
		return fmt.Errorf("%w: cleanup_max_attempts must be >= 1, got %d", ErrInvalidWorkerCount, c.CleanupMaxAttempts)
	}
	if c.CleanupBackoffBase <= 0 {
		return fmt.Errorf("%w: cleanup_backoff_base must be positive, got %s", ErrInvalidWorkerCount, c.CleanupBackoffBase)
	}

	return nil
}
