package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Hard failure codes. These distinguish "service unreachable" from
// "genuinely no relevant content" so the caller can decide whether to
// retry or inform the user.
const (
	ErrSearchUnavailable ErrorCode = "SEARCH_UNAVAILABLE" // every variant search failed
	ErrNoResults         ErrorCode = "NO_RESULTS"         // searches succeeded but fusion produced nothing
	ErrLLMUnavailable    ErrorCode = "LLM_UNAVAILABLE"
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrTimeout           ErrorCode = "TIMEOUT"
)

// Degraded-but-successful codes. The pipeline completes; these are only
// attached to response metadata, never returned as errors.
const (
	ErrExpansionFallback ErrorCode = "EXPANSION_FALLBACK"
	ErrRerankFallback    ErrorCode = "RERANK_FALLBACK"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the ErrorCode from err, or ErrInternalError if err is
// not a *types.Error.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Retryable
}

// ClarificationKind identifies why the pipeline stopped to ask the user
// for more information. Clarifications are terminal states, not errors:
// the caller must resubmit a refined question.
type ClarificationKind string

const (
	ClarifyAmbiguousQuery      ClarificationKind = "ambiguous_query"
	ClarifyInconsistentContext ClarificationKind = "inconsistent_context"
)

// ClarificationIssue describes one specific problem found in the query
// or the retrieved context.
type ClarificationIssue struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"` // "high" | "low"
	Detail   string `json:"detail"`
}

// Clarification is a structured request for more information returned to
// the caller in place of an answer.
type Clarification struct {
	Kind        ClarificationKind    `json:"kind"`
	Issues      []ClarificationIssue `json:"issues"`
	Suggestions []string             `json:"suggestions,omitempty"`
}
