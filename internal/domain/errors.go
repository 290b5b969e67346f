package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "post order")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// APIError is a non-success reply from the exchange REST API.
type APIError struct {
	Status int    // HTTP status
	Code   int    // exchange error code, 0 if the body had none
	Msg    string // exchange message or raw body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// IsRetriable treats rate limiting and server-side failures as transient.
func (e *APIError) IsRetriable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidQuantity is returned for orders whose quantity rounds to zero or below.
	ErrInvalidQuantity = errors.New("invalid order quantity")

	// ErrQueueClosed is returned by the order queue after shutdown.
	ErrQueueClosed = errors.New("order queue closed")

	// ErrNotReady means a signal cannot be computed yet (missing quote, short window).
	ErrNotReady = errors.New("signal not ready")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
