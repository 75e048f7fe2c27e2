package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input
	ErrCatExtraction  ErrorCategory = "extraction"  // Metadata/content fetch failure
	ErrCatLLM         ErrorCategory = "llm"         // Model transport or malformed response
	ErrCatArchive     ErrorCategory = "archive"     // Knowledge-base API failure
	ErrCatDelivery    ErrorCategory = "delivery"    // Chat-bot delivery failure
	ErrCatPersistence ErrorCategory = "persistence" // State store failure
	ErrCatState       ErrorCategory = "state"       // Phase conflict / stale resume
	ErrCatConflict    ErrorCategory = "conflict"    // Concurrent execution refused
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource not found
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExtraction creates a metadata/content extraction error.
func ErrExtraction(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExtraction,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrLLM creates a language-model collaborator error.
func ErrLLM(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatLLM,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrArchive creates a knowledge-base collaborator error.
func ErrArchive(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatArchive,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrDelivery creates a chat-delivery error. Delivery failures degrade
// to log lines, they never fail a run.
func ErrDelivery(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatDelivery,
		Code:      "DELIVERY_FAILED",
		Message:   message,
		Retryable: true,
	}
}

// ErrPersistence creates a state-store error. Callers must treat it as
// fatal to the current operation: the run's durability cannot be
// trusted past this point.
func ErrPersistence(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatPersistence,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrStaleResume creates the error returned when resumption targets a
// run that is not sitting at the suspend point.
func ErrStaleResume(id RunID, phase Phase) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      CodeStaleResume,
		Message:   fmt.Sprintf("run %s cannot resume from phase %s, expected %s", id, phase, PhaseWaitingDecision),
		Retryable: false,
		Details: map[string]interface{}{
			"run_id": string(id),
			"phase":  string(phase),
		},
	}
}

// ErrRunInFlight creates the error returned when the concurrency guard
// refuses a second execution for the same run.
func ErrRunInFlight(id RunID) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      CodeRunInFlight,
		Message:   fmt.Sprintf("another execution is in flight for run %s", id),
		Retryable: true,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeStaleResume     = "STALE_RESUME"
	CodeRunInFlight     = "RUN_IN_FLIGHT"
	CodeRunNotFound     = "RUN_NOT_FOUND"
	CodeInvalidDecision = "INVALID_DECISION"
	CodeStateCorrupted  = "STATE_CORRUPTED"
	CodeSaveFailed      = "SAVE_FAILED"
	CodeLoadFailed      = "LOAD_FAILED"
	CodeSourceInvalid   = "SOURCE_INVALID"
	CodeParseFailed     = "PARSE_FAILED"
	CodeUpstreamStatus  = "UPSTREAM_STATUS"
)
