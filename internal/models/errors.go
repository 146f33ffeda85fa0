package models

import (
	"errors"
	"fmt"
	"time"
)

// Closed set of engine error kinds. Callers wrap them with fmt.Errorf("%w: ...")
// and match with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("resource not found")
	ErrState            = errors.New("invalid state for operation")
	ErrTurn             = errors.New("not your turn")
	ErrCapacity         = errors.New("party is full")
	ErrAlreadyInParty   = errors.New("user already in a party")
	ErrForbidden        = errors.New("forbidden")
	ErrConnection       = errors.New("store connection failed")
	ErrTransientStore   = errors.New("transient store failure")
	ErrOperationTimeout = errors.New("operation timed out")
	ErrMalformedContent = errors.New("malformed generated content")
)

// ErrGeneratorUnavailable means the content generator could not produce a turn at all.
var ErrGeneratorUnavailable = errors.New("content generator unavailable")

// Frequently used state errors.
var (
	ErrNoPendingDecision  = fmt.Errorf("%w: no pending decisions", ErrState)
	ErrPartyNotRecruiting = fmt.Errorf("%w: party is not accepting members", ErrState)
	ErrAdventureNotActive = fmt.Errorf("%w: adventure not in progress", ErrState)
)

// ErrorKind is a stable identifier for an error class, used by the command layer.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindNotFound         ErrorKind = "not_found"
	KindState            ErrorKind = "state"
	KindTurn             ErrorKind = "turn"
	KindCapacity         ErrorKind = "capacity"
	KindAlreadyInParty   ErrorKind = "already_in_party"
	KindForbidden        ErrorKind = "forbidden"
	KindConnection       ErrorKind = "connection"
	KindTransientStore   ErrorKind = "transient_store"
	KindOperationTimeout ErrorKind = "timeout"
	KindMalformedContent ErrorKind = "malformed_content"
	KindGenerator        ErrorKind = "generator_unavailable"
	KindInternal         ErrorKind = "internal"
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrValidation, KindValidation},
	{ErrNotFound, KindNotFound},
	{ErrTurn, KindTurn},
	{ErrCapacity, KindCapacity},
	{ErrAlreadyInParty, KindAlreadyInParty},
	{ErrForbidden, KindForbidden},
	{ErrState, KindState},
	{ErrOperationTimeout, KindOperationTimeout},
	{ErrConnection, KindConnection},
	{ErrTransientStore, KindTransientStore},
	{ErrMalformedContent, KindMalformedContent},
	{ErrGeneratorUnavailable, KindGenerator},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the caller may safely repeat the request.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConnection, KindTransientStore, KindOperationTimeout, KindGenerator:
		return true
	}
	return false
}

// TimeoutError is returned when an operation wrapped by WithTimeout exceeds its budget.
type TimeoutError struct {
	Label   string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Label, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrOperationTimeout }

// ConnectionError is returned once connect retries are exhausted.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
