// Package errors provides standardized error handling for dataflow components.
// It includes error classification, standard error variables, and helper
// functions for consistent error wrapping across the engine.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents programming invariant violations; these are
	// converted to recoverable errors at package boundaries, never aborts
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Collector lifecycle errors
	ErrAlreadyStarted     = errors.New("collector already started")
	ErrNotStarted         = errors.New("collector not started")
	ErrAlreadyStopped     = errors.New("collector already stopped")
	ErrStopInProgress     = errors.New("collector stop in progress")
	ErrRefreshUnsupported = errors.New("refresh not supported for streaming collectors")

	// Collection errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrRequestFailed    = errors.New("request failed")
	ErrRequestTimeout   = errors.New("request timeout")
	ErrParseFailed      = errors.New("parse failed")

	// Transform errors
	ErrInvalidType   = errors.New("invalid input type for transform")
	ErrMissingField  = errors.New("missing field")
	ErrNegativeCount = errors.New("count cannot be negative")

	// Repository errors
	ErrInvalidPath  = errors.New("invalid path")
	ErrPathNotFound = errors.New("path not found")

	// Action errors
	ErrUnknownAction    = errors.New("unknown action")
	ErrActionFailed     = errors.New("action execution failed")
	ErrEvaluatorStopped = errors.New("trigger evaluator stopped")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrRequestFailed) ||
		errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrActionFailed) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrParseFailed) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsFatal checks if an error represents an invariant violation
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		// Default to transient for unknown errors to allow retry
		return ErrorTransient
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context. Callers at package
// boundaries must treat the result as recoverable (log and continue);
// the classification only records that an invariant was violated.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}
