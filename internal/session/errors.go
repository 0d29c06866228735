// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

// =============================================================================
// SYNCHRONOUS REJECTIONS
// =============================================================================

var (
	// ErrBusy is returned while the assistant is thinking, compressing memory
	// or reading a file.
	ErrBusy = errors.New("session busy")

	// ErrClosed is returned before Open and after Close.
	ErrClosed = errors.New("session closed")

	// ErrEmptyInput is returned for blank input. Nothing is sent.
	ErrEmptyInput = errors.New("empty input")

	// ErrInputTooLong is returned when input exceeds the character limit for
	// the configured context size.
	ErrInputTooLong = errors.New("input too long")
)

// =============================================================================
// TURN ERRORS
// =============================================================================

// TurnErrorKind classifies a failed turn.
type TurnErrorKind int

const (
	// KindBudgetRejected: the input cannot fit even with no history.
	KindBudgetRejected TurnErrorKind = iota
	// KindContextExceeded: the backend ran out of context mid-generation.
	KindContextExceeded
	// KindCompressionFailed: the summary was blank or too short.
	KindCompressionFailed
	// KindGenerationError: any other backend or transport failure.
	KindGenerationError
	// KindFileError: the file to analyse could not be read.
	KindFileError
)

// String returns a short name for the kind.
func (k TurnErrorKind) String() string {
	switch k {
	case KindBudgetRejected:
		return "budget rejected"
	case KindContextExceeded:
		return "context exceeded"
	case KindCompressionFailed:
		return "compression failed"
	case KindGenerationError:
		return "generation error"
	case KindFileError:
		return "file error"
	default:
		return "unknown"
	}
}

// TurnError is the outcome of a turn that did not complete. None of them are
// fatal: the session is back to Idle when it is reported.
type TurnError struct {
	Kind    TurnErrorKind
	Message string
	Cause   error
}

func (e *TurnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// IsTurnError reports whether err is a TurnError of the given kind.
func IsTurnError(err error, kind TurnErrorKind) bool {
	var te *TurnError
	return errors.As(err, &te) && te.Kind == kind
}
