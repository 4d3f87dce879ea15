package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeInvalidInput      ErrorType = "invalid_input"
	ErrorTypeExtraction        ErrorType = "extraction_failed"
	ErrorTypeUpstream          ErrorType = "upstream"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeBusy              ErrorType = "busy"
)

// Generic failure notice shown to users; stage detail goes to the logs.
const (
	MessageInvalidDocument = "Please select a valid PDF file."
	MessageRunFailed       = "An error occurred while processing the file. Please try again."
	MessageBusy            = "A document is already being processed. Please wait for it to finish."
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Stage   Stage
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	prefix := string(e.Type)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s/%s", e.Type, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func InvalidInputError(message string, err error) *DomainError {
	return NewError(ErrorTypeInvalidInput, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	e := NewError(ErrorTypeExtraction, message, err)
	e.Stage = StageExtract
	return e
}

func UpstreamError(message string, err error) *DomainError {
	return NewError(ErrorTypeUpstream, message, err)
}

func MalformedResponseError(message string, err error) *DomainError {
	return NewError(ErrorTypeMalformedResponse, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func BusyError(message string) *DomainError {
	return NewError(ErrorTypeBusy, message, nil)
}

// TypeOf returns the ErrorType of the first DomainError in err's chain,
// or an empty string if there is none.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) Stage {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}

// WithStage tags err with the stage it occurred in. Errors that are not
// domain errors are treated as upstream failures.
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if !errors.As(err, &de) {
		return &DomainError{Type: ErrorTypeUpstream, Stage: stage, Message: "stage failed", Err: err}
	}
	if de.Stage != "" {
		return err
	}
	tagged := *de
	tagged.Stage = stage
	return &tagged
}

// UserMessage converts err into the single notice shown to users. Transport
// and parse details are never included.
func UserMessage(err error) string {
	switch TypeOf(err) {
	case ErrorTypeInvalidInput:
		return MessageInvalidDocument
	case ErrorTypeBusy:
		return MessageBusy
	}
	if phase := StageOf(err).Phase(); phase != "" {
		return fmt.Sprintf("%s (failed while %s)", MessageRunFailed, phase.Describe())
	}
	return MessageRunFailed
}
