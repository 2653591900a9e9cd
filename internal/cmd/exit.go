package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/amipatch/pkg/patcher"
	"github.com/3leaps/amipatch/pkg/provider"
)

// Exit codes used by amipatch commands.
const (
	ExitInvalidConfig = foundry.ExitInvalidArgument
	ExitUsage         = foundry.ExitInvalidArgument
	ExitUpstream      = foundry.ExitExternalServiceUnavailable
	ExitCancelled     = foundry.ExitSignalInt
	ExitOutput        = foundry.ExitFileWriteError
	ExitInputMissing  = foundry.ExitFileNotFound
	ExitInputRead     = foundry.ExitFileReadError
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the process exit code for err: 0 for nil, the carried
// code for an ExitError and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// upstreamExit classifies a collaborator failure into an exit error.
func upstreamExit(message string, err error) error {
	if patcher.ErrorCode(err) == patcher.CodeCancelled {
		return exitError(ExitCancelled, message+" (cancelled)", err)
	}
	if errors.Is(err, provider.ErrAccessDenied) {
		return exitError(ExitUpstream, message+" (access denied)", err)
	}
	return exitError(ExitUpstream, message, err)
}
