package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure into the root taxonomy. Every module-level
// error wraps into an IronpostError carrying one of these kinds.
type ErrorKind string

const (
	ErrKindConfig    ErrorKind = "config"
	ErrKindContainer ErrorKind = "container"
	ErrKindPipeline  ErrorKind = "pipeline"
	ErrKindDetection ErrorKind = "detection"
	ErrKindSbom      ErrorKind = "sbom"
	ErrKindParse     ErrorKind = "parse"
	ErrKindStorage   ErrorKind = "storage"
)

// IronpostError is the root error type. Subject names the offending
// identifier (a field, rule id, container id, file path); Reason is a short
// human-readable cause, never a raw stack.
type IronpostError struct {
	Kind    ErrorKind
	Subject string
	Reason  string
	Err     error
}

func (e *IronpostError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *IronpostError) Unwrap() error { return e.Err }

// NewError builds an IronpostError without an underlying cause.
func NewError(kind ErrorKind, subject, reason string) *IronpostError {
	return &IronpostError{Kind: kind, Subject: subject, Reason: reason}
}

// WrapError builds an IronpostError preserving the underlying cause for
// errors.Is / errors.As chains. A nil err yields nil.
func WrapError(kind ErrorKind, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &IronpostError{Kind: kind, Subject: subject, Reason: err.Error(), Err: err}
}

// Lifecycle sentinels shared by every module implementing the pipeline
// contract.
var (
	// ErrAlreadyRunning is returned by Start on a running module.
	ErrAlreadyRunning = errors.New("module already running")
	// ErrNotRunning is returned by Stop on a module that is not running.
	ErrNotRunning = errors.New("module not running")
)

// KindOf extracts the taxonomy kind of err, if it is or wraps an
// IronpostError.
func KindOf(err error) (ErrorKind, bool) {
	var ie *IronpostError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}
