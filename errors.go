package bulkingest

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// Per-operation errors. The batch runner records these and moves on.
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeUnresolvedReference ErrorType = "unresolved_reference"
	ErrorTypeReferenceNotFound   ErrorType = "reference_not_found"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeUnknownOperation    ErrorType = "unknown_operation"
	ErrorTypeRepository          ErrorType = "repository"

	// Fatal errors. The whole invocation fails before any operation runs.
	ErrorTypeBatchSource ErrorType = "batch_source"
	ErrorTypeBatchFormat ErrorType = "batch_format"
	ErrorTypeConfig      ErrorType = "config"
)

// Error codes
const (
	ErrCodeRequiredFieldMissing  = "REQUIRED_FIELD_MISSING"
	ErrCodeAmbiguousReference    = "AMBIGUOUS_REFERENCE"
	ErrCodeInvalidUUID           = "INVALID_UUID"
	ErrCodeReferenceTypeMismatch = "REFERENCE_TYPE_MISMATCH"
	ErrCodeTempIDNotResolved     = "TEMP_ID_NOT_RESOLVED"
	ErrCodeReferenceNotFound     = "REFERENCE_NOT_FOUND"
	ErrCodeInvalidFileLocation   = "INVALID_FILE_LOCATION"
	ErrCodeEntityNotFound        = "ENTITY_NOT_FOUND"
	ErrCodeTempIDConflict        = "TEMP_ID_CONFLICT"
	ErrCodeUnknownOperation      = "UNKNOWN_OPERATION"
	ErrCodeRepositoryFailed      = "REPOSITORY_FAILED"
	ErrCodeBatchNotFound         = "BATCH_NOT_FOUND"
	ErrCodeBatchUnreadable       = "BATCH_UNREADABLE"
	ErrCodeInvalidJSON           = "INVALID_JSON"
	ErrCodeInvalidYAML           = "INVALID_YAML"
	ErrCodeInvalidEnvelope       = "INVALID_ENVELOPE"
	ErrCodeTooManyOperations     = "TOO_MANY_OPERATIONS"
	ErrCodeInvalidConfig         = "INVALID_CONFIG"
)

// IngestError is the error type produced by every layer of the ingest pipeline.
type IngestError struct {
	Type      ErrorType      `json:"type"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Operation OperationKind  `json:"operation,omitempty"`
	TempID    string         `json:"tempId,omitempty"`
	Field     string         `json:"field,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *IngestError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *IngestError) Unwrap() error {
	return e.Cause
}

// WithCause adds a cause to an IngestError
func (e *IngestError) WithCause(cause error) *IngestError {
	e.Cause = cause
	return e
}

// WithField adds field context to an IngestError
func (e *IngestError) WithField(field string) *IngestError {
	e.Field = field
	return e
}

// WithOperation adds operation context to an IngestError
func (e *IngestError) WithOperation(op Operation) *IngestError {
	if op == nil {
		return e
	}
	e.Operation = op.Kind()
	e.TempID = op.TempID()
	return e
}

// WithDetail adds a single detail to an IngestError
func (e *IngestError) WithDetail(key string, value any) *IngestError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewIngestError creates a new IngestError
func NewIngestError(errorType ErrorType, code, message string) *IngestError {
	return &IngestError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewValidationError reports a missing or malformed input field.
func NewValidationError(field, message string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeRequiredFieldMissing,
		Message: message,
		Field:   field,
	}
}

// NewUnresolvedReferenceError reports a temp_id that no earlier successful
// operation recorded.
func NewUnresolvedReferenceError(field, tempID string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeUnresolvedReference,
		Code:    ErrCodeTempIDNotResolved,
		Message: fmt.Sprintf("temp_id %q not found: no earlier operation recorded it", tempID),
		Field:   field,
	}
}

// NewReferenceNotFoundError reports a durable uuid reference with no matching record.
func NewReferenceNotFoundError(kind, id string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeReferenceNotFound,
		Code:    ErrCodeReferenceNotFound,
		Message: fmt.Sprintf("%s not found for uuid %s", kind, id),
	}
}

// NewNotFoundError reports an update target missing from the repository.
func NewNotFoundError(entityType EntityType, id string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeEntityNotFound,
		Message: fmt.Sprintf("%s not found for uuid %s", entityType, id),
	}
}

// NewConflictError reports a second, different registration of a temp_id.
func NewConflictError(tempID string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeTempIDConflict,
		Message: fmt.Sprintf("temp_id %q is already mapped to a different record", tempID),
	}
}

// NewUnknownOperationError reports an operation kind the executor cannot run.
func NewUnknownOperationError(kind string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeUnknownOperation,
		Code:    ErrCodeUnknownOperation,
		Message: fmt.Sprintf("unknown operation: %s", kind),
	}
}

// NewRepositoryError wraps a failure returned by the entity repository.
func NewRepositoryError(message string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeRepository,
		Code:    ErrCodeRepositoryFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewBatchSourceError reports a missing or unreadable batch description.
func NewBatchSourceError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeBatchSource,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewBatchFormatError reports an unparsable or structurally invalid batch description.
func NewBatchFormatError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeBatchFormat,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// AsIngestError unwraps err into an *IngestError when possible.
func AsIngestError(err error) (*IngestError, bool) {
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr, true
	}
	return nil, false
}

func hasType(err error, errorType ErrorType) bool {
	if ingestErr, ok := AsIngestError(err); ok {
		return ingestErr.Type == errorType
	}
	return false
}

// IsFatal reports whether err aborts the whole invocation.
func IsFatal(err error) bool {
	if IsConfigError(err) {
		return true
	}
	ingestErr, ok := AsIngestError(err)
	if !ok {
		return false
	}
	switch ingestErr.Type {
	case ErrorTypeBatchSource, ErrorTypeBatchFormat, ErrorTypeConfig:
		return true
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnresolvedReferenceError checks if an error is an unresolved temp_id reference
func IsUnresolvedReferenceError(err error) bool {
	return hasType(err, ErrorTypeUnresolvedReference)
}

// IsReferenceNotFoundError checks if an error is a missing uuid reference
func IsReferenceNotFoundError(err error) bool {
	return hasType(err, ErrorTypeReferenceNotFound)
}

// IsNotFoundError checks if an error is a missing update target
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsConflictError checks if an error is a temp_id conflict
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsUnknownOperationError checks if an error is an unknown operation kind
func IsUnknownOperationError(err error) bool {
	return hasType(err, ErrorTypeUnknownOperation)
}
