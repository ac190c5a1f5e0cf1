package library

import "errors"

// Failure kinds returned by the core. Callers match them with errors.Is; the
// wrapped message only adds the identifier involved.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	ErrInUse               = errors.New("in use by an open loan")
	ErrUnavailable         = errors.New("no copies available")
	ErrAlreadyClosed       = errors.New("loan already closed")
	ErrInvalidState        = errors.New("invalid state")
	ErrIOFailure           = errors.New("i/o failure")
	ErrCorruptData         = errors.New("corrupt data")
	ErrAuthFailure         = errors.New("authentication failed")
)

// Additional policy and input errors.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrBlacklisted      = errors.New("user is blacklisted")
	ErrLoanLimit        = errors.New("user reached the open loan limit")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ErrTooManyAttempts is returned while login attempts are throttled. It also
// matches ErrAuthFailure.
var ErrTooManyAttempts = throttledError{}

type throttledError struct{}

func (throttledError) Error() string        { return "too many login attempts, try again later" }
func (throttledError) Is(target error) bool { return target == ErrAuthFailure }
