package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is_MatchesKindAndCode(t *testing.T) {
	err := New(KindNotFound, "KNOWLEDGE_BASE_NOT_FOUND", "knowledge base not found")

	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound, Code: "KNOWLEDGE_BASE_NOT_FOUND"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindUnavailable}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound, Code: "DOCUMENT_NOT_FOUND"}))
}

func TestError_UnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindInternal, "INTERNAL_ERROR", "store failure")

	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("running cleanup: %w", err)
	var domain *Error
	require.True(t, errors.As(wrapped, &domain))
	assert.Equal(t, KindInternal, domain.Kind)
}

func TestWithDetail_Appends(t *testing.T) {
	err := New(KindValidation, "VALIDATION_ERROR", "invalid request").
		WithDetail("top_k", "OUT_OF_RANGE", "top_k exceeds maximum").
		WithDetail("query", "REQUIRED", "query must not be empty")

	require.Len(t, err.Details, 2)
	assert.Equal(t, "top_k", err.Details[0].Field)
	assert.Equal(t, "REQUIRED", err.Details[1].Code)
}

func TestKindOf_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindGone, KindOf(New(KindGone, "DOCUMENT_DELETED", "document deleted")))
}

func TestAs_WrapsForeignErrors(t *testing.T) {
	e := As(errors.New("boom"))
	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, "INTERNAL_ERROR", e.Code)
	// Client-facing message must not leak internals.
	assert.Equal(t, "internal error", e.Message)
}
