package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that a channel is not usable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrRequestInFlight indicates that a gated request was dropped because
	// another request of the same panel has not settled yet.
	ErrRequestInFlight = errors.New("request in flight")

	// ErrSessionClosed indicates that a send was attempted on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrSendQueueFull indicates that the outbound queue of a session is full.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrTimeout indicates that no terminal event arrived in time.
	ErrTimeout = errors.New("request timed out")

	// ErrRemote indicates that a remote service reported a failure.
	ErrRemote = errors.New("remote error")

	// ErrDecode indicates that a result payload could not be decoded.
	ErrDecode = errors.New("decode error")

	// ErrNoResults indicates a search_results event without a results payload.
	ErrNoResults = errors.New("no results")

	// ErrArtifactNotFound indicates that an artifact was never materialized
	// or has already been released.
	ErrArtifactNotFound = fmt.Errorf("artifact %w", ErrNotFound)
)

// ValidationError represents a local validation error for a specific field.
// It is raised before anything is sent on a channel.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RemoteError carries the message of an error event received on a channel.
type RemoteError struct {
	Channel string
	Event   string
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s reported %s: %s", e.Channel, e.Event, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// CategoryDecodeError reports a single classification category whose value
// could not be decoded. Other categories of the same payload are unaffected.
type CategoryDecodeError struct {
	Category string
	Cause    error
}

// Error implements the error interface.
func (e *CategoryDecodeError) Error() string {
	return fmt.Sprintf("decode category %s: %v", e.Category, e.Cause)
}

// Is reports ErrDecode so callers can match any decode failure.
func (e *CategoryDecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Unwrap returns the underlying cause error.
func (e *CategoryDecodeError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRemoteError creates a new RemoteError.
func NewRemoteError(channel, event, message string) *RemoteError {
	return &RemoteError{
		Channel: channel,
		Event:   event,
		Message: message,
	}
}

// NewCategoryDecodeError creates a new CategoryDecodeError.
func NewCategoryDecodeError(category string, cause error) *CategoryDecodeError {
	return &CategoryDecodeError{
		Category: category,
		Cause:    cause,
	}
}
