package core

import (
	"errors"
	"fmt"
)

// Exit codes for the CLI.
const (
	ExitOK          = 0
	ExitRuntime     = 1
	ExitUsage       = 2
	ExitUnavailable = 3
	ExitNotFound    = 4
	ExitRejected    = 5
	ExitSuperseded  = 6
)

// Player failure conditions. Adapters wrap these with %w.
var (
	ErrServiceUnavailable = errors.New("catalog service unavailable")
	ErrNotFound           = errors.New("not found")
	ErrCacheInvalid       = errors.New("cache entry invalid")
	ErrPlaybackRejected   = errors.New("playback rejected by sink")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrSuperseded         = errors.New("superseded by a newer request")
	ErrEmptyView          = errors.New("view is empty")
)

// Reply error codes carried in deck.ReplyError.
const (
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
	CodePlaybackRejected   = "PLAYBACK_REJECTED"
	CodeInvalid            = "INVALID"
	CodeSuperseded         = "SUPERSEDED"
	CodeEmptyView          = "EMPTY_VIEW"
	CodeInternal           = "INTERNAL"
)

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error { return e.Err }

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// ReplyCode maps a player error onto its protocol code.
func ReplyCode(err error) string {
	switch {
	case errors.Is(err, ErrServiceUnavailable):
		return CodeServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPlaybackRejected):
		return CodePlaybackRejected
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalid
	case errors.Is(err, ErrSuperseded):
		return CodeSuperseded
	case errors.Is(err, ErrEmptyView):
		return CodeEmptyView
	default:
		return CodeInternal
	}
}

// ErrorForReplyCode maps protocol error codes to CLI exit codes.
func ErrorForReplyCode(code string, message string) *CLIError {
	switch code {
	case CodeServiceUnavailable:
		return &CLIError{Code: ExitUnavailable, Msg: message}
	case CodeNotFound, CodeEmptyView:
		return &CLIError{Code: ExitNotFound, Msg: message}
	case CodePlaybackRejected:
		return &CLIError{Code: ExitRejected, Msg: message}
	case CodeSuperseded:
		return &CLIError{Code: ExitSuperseded, Msg: message}
	case CodeInvalid:
		return &CLIError{Code: ExitUsage, Msg: message}
	default:
		return &CLIError{Code: ExitRuntime, Msg: message}
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitRuntime
}
