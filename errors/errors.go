// Package errors provides standardized error handling for TenantSync
// components: error classification, sentinel variables, failure codes for
// stage events, and helpers for consistent wrapping across the pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class represents the classification of an error for handling purposes.
type Class int

const (
	// ClassTransient represents temporary errors that may be retried.
	ClassTransient Class = iota
	// ClassInvalid represents errors due to invalid input or configuration;
	// retrying cannot succeed.
	ClassInvalid
	// ClassFatal represents unrecoverable errors that should stop processing.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for common pipeline conditions.
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Bus and connection errors
	ErrNoConnection    = errors.New("no connection available")
	ErrConnectionLost  = errors.New("connection lost")
	ErrPublishFailed   = errors.New("publish failed")
	ErrSubscribeFailed = errors.New("subscription failed")

	// Store errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")
	ErrRevisionConflict   = errors.New("revision conflict")

	// Provider errors
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrProviderAuth          = errors.New("provider authentication failed")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnsupportedEntityType = errors.New("unsupported entity type")

	// Data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Code identifies a failure cause on stage failure events.
type Code string

// Failure codes carried by failed.* events.
const (
	CodeDBFailure         Code = "DB_FAILURE"
	CodeProviderFailure   Code = "PROVIDER_FAILURE"
	CodeProcessorFailed   Code = "PROCESSOR_FAILED"
	CodeResolverFailed    Code = "RESOLVER_FAILED"
	CodeAnalyzerFailed    Code = "ANALYZER_FAILED"
	CodeUnsupportedEntity Code = "UNSUPPORTED_ENTITY"
	CodeUnknown           Code = "UNKNOWN"
)

// CodeFor maps an error to the failure code carried on stage events.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrUnsupportedEntityType):
		return CodeUnsupportedEntity
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrBucketNotFound),
		errors.Is(err, ErrRevisionConflict):
		return CodeDBFailure
	case errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrProviderAuth),
		errors.Is(err, ErrRateLimited):
		return CodeProviderFailure
	case errors.Is(err, ErrInvalidData), errors.Is(err, ErrParsingFailed):
		return CodeProcessorFailed
	default:
		return CodeUnknown
	}
}

// Retryable reports whether the originating job should be re-attempted by the
// queue's backoff policy. Only invalid-class errors (the UNSUPPORTED_ENTITY
// family) are non-retryable.
func Retryable(err error) bool {
	return !IsInvalid(err)
}

// ClassifiedError wraps an error with its classification and origin.
type ClassifiedError struct {
	Class     Class
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks whether an error is transient and may be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}

	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrRevisionConflict) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks whether an error is due to invalid input and must not be
// retried.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrUnsupportedEntityType) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsFatal checks whether an error is fatal and should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}

	return false
}

// Classify returns the error class for an error. Unknown errors default to
// transient so the queue's backoff gets a chance to recover them.
func Classify(err error) Class {
	switch {
	case IsInvalid(err):
		return ClassInvalid
	case IsFatal(err):
		return ClassFatal
	default:
		return ClassTransient
	}
}

// Wrap creates a standardized error with context following the pattern
// "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class Class, err error, component, method string) error {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   err.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ClassTransient, Wrap(err, component, method, action), component, method)
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ClassInvalid, Wrap(err, component, method, action), component, method)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ClassFatal, Wrap(err, component, method, action), component, method)
}
