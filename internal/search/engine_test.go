package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/log"
)

func TestSearchValidation(t *testing.T) {
	// Validation runs before any dependency is touched, so nil
	// collaborators are fine here.
	engine := NewEngine(nil, nil, nil, nil, 50, 64, log.NewNop())
	ctx := context.Background()

	t.Run("empty query", func(t *testing.T) {
		_, err := engine.Search(ctx, uuid.New(), "   ", 5)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("top_k too small", func(t *testing.T) {
		_, err := engine.Search(ctx, uuid.New(), "query", 0)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("top_k too large", func(t *testing.T) {
		_, err := engine.Search(ctx, uuid.New(), "query", 51)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-9)
	assert.Greater(t, sigmoid(4), 0.98)
	assert.Less(t, sigmoid(-4), 0.02)
	assert.Greater(t, sigmoid(1), sigmoid(-1))
}
