// Package errors provides structured error handling for kbretrieve.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (corpus and config files)
//   - 3XX: Network and transport errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Authentication errors
package errors

// Category groups codes by their hundreds digit.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
	CategoryAuth       Category = "AUTH"
)

// Severity says whether the caller can keep going.
type Severity string

const (
	// SeverityFatal aborts the retrieval.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the operation; a fallback may still answer.
	SeverityError Severity = "ERROR"
	// SeverityWarning is a degraded but usable result.
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeBackendConfig  = "ERR_104_BACKEND_CONFIG"

	// IO errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorpusInvalid = "ERR_206_CORPUS_INVALID"

	// Network errors (300-399)
	ErrCodeNetworkTimeout   = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeBackendTransport = "ERR_304_BACKEND_TRANSPORT"
	ErrCodeCircuitOpen      = "ERR_305_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodePolicyViolation   = "ERR_407_POLICY_VIOLATION"
	ErrCodeFusionInput       = "ERR_408_FUSION_INPUT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeRetrievalFailed = "ERR_506_RETRIEVAL_FAILED"
	ErrCodeJudgeFailed     = "ERR_507_JUDGE_FAILED"

	// Auth errors (600-699)
	ErrCodeBackendAuth = "ERR_601_BACKEND_AUTH"
)

var categoryByDigit = map[byte]Category{
	'1': CategoryConfig,
	'2': CategoryIO,
	'3': CategoryNetwork,
	'4': CategoryValidation,
	'6': CategoryAuth,
}

// categoryFromCode reads the hundreds digit of "ERR_NNN_NAME".
func categoryFromCode(code string) Category {
	if len(code) < 7 || code[:4] != "ERR_" {
		return CategoryInternal
	}
	if c, ok := categoryByDigit[code[4]]; ok {
		return c
	}
	return CategoryInternal
}

// codeTraits lists codes whose severity or retryability differs from the
// default of SeverityError and not retryable.
var codeTraits = map[string]struct {
	severity  Severity
	retryable bool
}{
	ErrCodeNetworkTimeout:   {SeverityWarning, true},
	ErrCodeBackendTransport: {SeverityWarning, true},
	ErrCodeCircuitOpen:      {SeverityWarning, true},
	ErrCodeFusionInput:      {SeverityFatal, false},
	ErrCodeRetrievalFailed:  {SeverityFatal, false},
}

func severityFromCode(code string) Severity {
	if t, ok := codeTraits[code]; ok {
		return t.severity
	}
	return SeverityError
}

// isRetryableCode reports whether a later call may succeed. kbretrieve never
// retries by itself; the flag is surfaced to callers.
func isRetryableCode(code string) bool {
	return codeTraits[code].retryable
}
