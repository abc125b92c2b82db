package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearnError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection reset")

	// When: wrapping with LearnError
	le := New(ErrCodeEngineUnavailable, "engine unavailable", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, le)
	assert.Equal(t, originalErr, errors.Unwrap(le))
	assert.True(t, errors.Is(le, originalErr))
}

func TestLearnError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config error", ErrCodeConfigInvalid, "bad shard count", "[ERR_102_CONFIG_INVALID] bad shard count"},
		{"engine error", ErrCodeEngineTimeout, "bulk timed out", "[ERR_202_ENGINE_TIMEOUT] bulk timed out"},
		{"reindex error", ErrCodeReindexFailed, "chunk failed", "[ERR_501_REINDEX_FAILED] chunk failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestLearnError_Is_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("upsert 42: %w", NotFound("document 42 not found"))

	assert.True(t, errors.Is(err, New(ErrCodeDocumentNotFound, "", nil)))
	assert.False(t, errors.Is(err, New(ErrCodeIndexNotFound, "", nil)))
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeEngineUnavailable, CategoryEngine, SeverityWarning, true},
		{ErrCodeVersionConflict, CategoryEngine, SeverityWarning, true},
		{ErrCodeDocumentNotFound, CategoryEngine, SeverityWarning, false},
		{ErrCodeInvalidDocument, CategoryValidation, SeverityError, false},
		{ErrCodeStoreUnavailable, CategoryStore, SeverityWarning, true},
		{ErrCodeReindexFailed, CategoryOrchestration, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			le := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, le.Category)
			assert.Equal(t, tt.severity, le.Severity)
			assert.Equal(t, tt.retryable, le.Retryable)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStoreQuery, nil))
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	// Given: LearnErrors wrapped by fmt.Errorf
	retryable := fmt.Errorf("chunk 1-100: %w", Unavailable("engine closed", nil))
	notFound := fmt.Errorf("upsert: %w", NotFound("missing"))
	fatal := fmt.Errorf("finish: %w", New(ErrCodeReindexFailed, "boom", nil))

	// Then: helpers inspect the whole chain
	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRetryable(notFound))
	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsFatal(fatal))
	assert.Equal(t, ErrCodeEngineUnavailable, GetCode(retryable))
	assert.Equal(t, CategoryOrchestration, GetCategory(fatal))
	assert.Empty(t, GetCode(errors.New("plain")))
}

func TestWithDetail_Chains(t *testing.T) {
	le := ValidationError("bad doc", nil).
		WithDetail("object_type", "course").
		WithSuggestion("check the mapping")

	assert.Equal(t, "course", le.Details["object_type"])
	assert.Equal(t, "check the mapping", le.Suggestion)
}
