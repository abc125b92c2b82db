// Package errors provides structured error handling for learnsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index engine errors
//   - 3XX: Validation errors (documents, mappings, queries)
//   - 4XX: Source store errors
//   - 5XX: Orchestration errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryEngine indicates index engine errors.
	CategoryEngine Category = "ENGINE"
	// CategoryValidation indicates malformed documents, mappings or queries.
	CategoryValidation Category = "VALIDATION"
	// CategoryStore indicates source-of-truth store errors.
	CategoryStore Category = "STORE"
	// CategoryOrchestration indicates task graph and reindex errors.
	CategoryOrchestration Category = "ORCHESTRATION"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Engine errors (200-299)
	ErrCodeEngineUnavailable = "ERR_201_ENGINE_UNAVAILABLE"
	ErrCodeEngineTimeout     = "ERR_202_ENGINE_TIMEOUT"
	ErrCodeEngineBusy        = "ERR_203_ENGINE_BUSY"
	ErrCodeVersionConflict   = "ERR_204_VERSION_CONFLICT"
	ErrCodeIndexNotFound     = "ERR_205_INDEX_NOT_FOUND"
	ErrCodeDocumentNotFound  = "ERR_206_DOCUMENT_NOT_FOUND"
	ErrCodeEngineLocked      = "ERR_207_ENGINE_LOCKED"

	// Validation errors (300-399)
	ErrCodeInvalidDocument   = "ERR_301_INVALID_DOCUMENT"
	ErrCodeMissingRelation   = "ERR_302_MISSING_RELATION"
	ErrCodePayloadTooLarge   = "ERR_303_PAYLOAD_TOO_LARGE"
	ErrCodeUnknownObjectType = "ERR_304_UNKNOWN_OBJECT_TYPE"
	ErrCodeInvalidQuery      = "ERR_305_INVALID_QUERY"

	// Store errors (400-499)
	ErrCodeStoreUnavailable = "ERR_401_STORE_UNAVAILABLE"
	ErrCodeRecordNotFound   = "ERR_402_RECORD_NOT_FOUND"
	ErrCodeStoreQuery       = "ERR_403_STORE_QUERY"

	// Orchestration errors (500-599)
	ErrCodeReindexFailed      = "ERR_501_REINDEX_FAILED"
	ErrCodeBackingIndexCreate = "ERR_502_BACKING_INDEX_CREATE"
	ErrCodeTaskFailed         = "ERR_503_TASK_FAILED"
	ErrCodeUnknownTask        = "ERR_504_UNKNOWN_TASK"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryOrchestration
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryEngine
	case '3':
		return CategoryValidation
	case '4':
		return CategoryStore
	default:
		return CategoryOrchestration
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeReindexFailed, ErrCodeBackingIndexCreate, ErrCodeEngineLocked:
		return SeverityFatal
	}

	if isRetryableCode(code) || isNotFoundCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode reports whether the code is a transient engine or store failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEngineUnavailable, ErrCodeEngineTimeout, ErrCodeEngineBusy,
		ErrCodeVersionConflict, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// isNotFoundCode reports whether the code is a benign not-found race.
func isNotFoundCode(code string) bool {
	return code == ErrCodeIndexNotFound || code == ErrCodeDocumentNotFound
}
