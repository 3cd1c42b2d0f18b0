// Package enginerr defines the engine's closed set of error codes and the
// sentinel errors built from them, mirroring the teacher's error_code.go /
// base.go pattern of numeric codes paired with runtime.NewError.
package enginerr

import "errors"

// Code identifies the class of an engine error.
type Code int

const (
	// InvalidArgument marks malformed or missing input (validation errors, §7).
	InvalidArgument Code = 3
	// NotFound marks a missing catalog entity, user, wallet or transfer.
	NotFound Code = 5
	// FailedPrecondition marks a rule or invariant that blocked a mutation
	// (insufficient balance, negative-category violation).
	FailedPrecondition Code = 9
	// Unavailable marks a transient storage or queue failure eligible for retry.
	Unavailable Code = 14
	// Internal marks an unrecoverable/unexpected failure.
	Internal Code = 13
)

// CodedError pairs a message with a Code, analogous to runtime.NewError.
type CodedError struct {
	msg  string
	code Code
}

func New(msg string, code Code) *CodedError {
	return &CodedError{msg: msg, code: code}
}

func (e *CodedError) Error() string { return e.msg }

func (e *CodedError) Code() Code { return e.code }

// CodeOf extracts the Code from err, defaulting to Internal if err does not
// carry one.
func CodeOf(err error) Code {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return Internal
}

var (
	ErrQueueFull        = New("ingest queue is full", Unavailable)
	ErrDuplicateEvent   = New("event id already ingested", InvalidArgument)
	ErrEventInvalid     = New("event failed validation", InvalidArgument)
	ErrCatalogNotFound  = New("catalog entity not found", NotFound)
	ErrRuleMalformed    = New("rule is not well-formed", InvalidArgument)
	ErrInsufficientFund = New("insufficient wallet balance", FailedPrecondition)
	ErrNegativeBalance  = New("operation would make balance negative", FailedPrecondition)
	ErrTransferFailed   = New("transfer could not be completed", FailedPrecondition)
	ErrPlanAborted      = New("plan aborted after a prior reward failed", FailedPrecondition)
	ErrStorageUnavail   = New("storage temporarily unavailable", Unavailable)
	ErrCascadeDepth     = New("cascade depth limit exceeded", FailedPrecondition)
	ErrShuttingDown     = New("worker pool is shutting down", Unavailable)
)

// Transient reports whether an error should be retried by the worker pool's
// backoff policy (§4.1) rather than treated as terminal.
func Transient(err error) bool {
	return CodeOf(err) == Unavailable
}
