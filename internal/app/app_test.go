package app_test

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quiverhq/quiver/internal/app"
	"github.com/quiverhq/quiver/internal/config"
	"github.com/quiverhq/quiver/internal/log"
	"github.com/quiverhq/quiver/internal/testutil"
)

func TestSetupNilConfig(t *testing.T) {
	_, err := app.Setup(context.Background(), nil, log.NewNop())
	assert.ErrorIs(t, err, config.ErrConfigNil)
}

// configFromURL builds a Config pointed at the test container.
func configFromURL(t *testing.T, connStr string) *config.Config {
	t.Helper()

	u, err := url.Parse(connStr)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()

	return &config.Config{
		HTTPAddr:            "127.0.0.1:0",
		PostgresHost:        u.Hostname(),
		PostgresPort:        port,
		PostgresUser:        u.User.Username(),
		PostgresPassword:    password,
		PostgresDBName:      u.Path[1:],
		PostgresSSLMode:     "disable",
		ModelBaseURL:        "http://127.0.0.1:0/v1",
		ModelTimeout:        time.Second,
		EmbeddingModel:      "BAAI/bge-m3",
		EmbeddingDimension:  config.SchemaEmbeddingDimension,
		RerankModel:         "BAAI/bge-reranker-v2-m3",
		ChunkSizeTokens:     400,
		ChunkOverlapTokens:  80,
		MaxDocumentBytes:    20 << 20,
		IngestWorkers:       2,
		MaxTopK:             50,
		MaxRerankCandidates: 64,
		HNSWEfSearch:        40,
		CleanupMaxAttempts:  3,
		CleanupBackoffBase:  time.Millisecond,
	}
}

func TestSetupStartClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Setup(ctx, configFromURL(t, db.ConnStr), log.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, a.Registry)
	assert.NotNil(t, a.Documents)
	assert.NotNil(t, a.Vectors)
	assert.NotNil(t, a.CleanupStore)
	assert.NotNil(t, a.Executor)
	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Workers)
	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Metrics)

	a.Start(ctx)

	// The pool must be live and the schema migrated.
	var n int
	require.NoError(t, a.Pool.QueryRow(ctx, "SELECT count(*) FROM knowledge_bases").Scan(&n))

	cancel()
	require.NoError(t, a.Close(context.Background()))
}
