// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Exit codes and error classification for ctxchat commands.
//
// Commands always return errors; Execute prints them once and maps them to
// an exit code.

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/ctxchat/internal/config"
	"github.com/jeranaias/ctxchat/internal/ollama"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the model server could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a file or model was not found
	ExitNotFoundError = 7
	// ExitInterrupted indicates the process was stopped by a signal
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// errInterrupted is returned when SIGTERM ends a command.
var errInterrupted = errors.New("interrupted")

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "config")
	Action  string // Action being performed (e.g., "set")
	Err     error  // Underlying error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError marks bad arguments.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var verrs config.ValidateErrors
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &verrs):
		return ExitConfigError
	case ollama.IsNotRunning(err), ollama.IsTimeout(err):
		return ExitNetworkError
	case ollama.IsModelNotFound(err):
		return ExitNotFoundError
	case errors.Is(err, os.ErrNotExist):
		return ExitNotFoundError
	case errors.Is(err, errInterrupted):
		return ExitInterrupted
	default:
		return ExitGeneralError
	}
}
