package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLoopRunning     = errors.New("reconciliation loop already running")
	ErrBudgetExhausted = errors.New("attempt budget exhausted")
	ErrInternal        = errors.New("internal error")
	ErrRateLimited     = errors.New("rate limit exceeded")

	ErrInvalidExecContext = errors.New("invalid db executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// ValidationError is returned by the submission gateway before any provider call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// ProviderErrorKind drives the reconciliation retry policy.
type ProviderErrorKind int

const (
	// Transient covers network failures, call timeouts, 408/429 and 5xx responses.
	Transient ProviderErrorKind = iota
	// Permanent covers 4xx responses: the job id is unknown or was rejected.
	Permanent
)

func (k ProviderErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

type ProviderError struct {
	Kind       ProviderErrorKind
	Op         string // submit | status
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (%s, http %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider %s (%s): %s", e.Op, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewTransient(op string, status int, msg string, err error) *ProviderError {
	return &ProviderError{Kind: Transient, Op: op, StatusCode: status, Message: msg, Err: err}
}

func NewPermanent(op string, status int, msg string, err error) *ProviderError {
	return &ProviderError{Kind: Permanent, Op: op, StatusCode: status, Message: msg, Err: err}
}

// IsPermanent reports whether err carries a permanent provider classification.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == Permanent
}

// IsTransient treats every non-permanent provider failure as retryable.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// ProviderMessage extracts the provider's human readable message, if any.
func ProviderMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
