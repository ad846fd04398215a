// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors classifies the fatal-error kinds enumerated in the
// error handling design (config/CLI errors exit 2, everything else
// fatal exits 1) and renders them consistently for both human and JSON
// output, built on a UserError type with a title, detail, and operator
// suggestion.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind distinguishes the exit code a UserError causes.
type Kind string

const (
	KindConfig     Kind = "config"
	KindInput      Kind = "input"
	KindInternal   Kind = "internal"
	KindPermission Kind = "permission"
	KindNetwork    Kind = "network"
	KindDatabase   Kind = "database"
)

// UserError is a fatal error with a title for quick scanning, a detail
// line explaining what happened, a suggestion for the operator, and the
// underlying cause.
type UserError struct {
	Kind       Kind
	Title      string
	Detail     string
	Suggestion string
	Err        error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error { return e.Err }

// jsonError is the shape written to stdout when FatalError runs in JSON mode.
type jsonError struct {
	Error      string `json:"error"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Format renders e for a terminal (jsonMode false) or as a single JSON
// object on its own line (jsonMode true).
func (e *UserError) Format(jsonMode bool) string {
	if jsonMode {
		b, err := json.Marshal(jsonError{Error: e.Title, Detail: e.Detail, Suggestion: e.Suggestion})
		if err != nil {
			return e.Title
		}
		return string(b)
	}
	s := fmt.Sprintf("Error: %s\n  %s", e.Title, e.Detail)
	if e.Suggestion != "" {
		s += fmt.Sprintf("\n  Suggestion: %s", e.Suggestion)
	}
	if e.Err != nil {
		s += fmt.Sprintf("\n  (%v)", e.Err)
	}
	return s
}

func newError(kind Kind, title, detail, suggestion string, err error) *UserError {
	return &UserError{Kind: kind, Title: title, Detail: detail, Suggestion: suggestion, Err: err}
}

func NewConfigError(title, detail, suggestion string, err error) *UserError {
	return newError(KindConfig, title, detail, suggestion, err)
}

func NewInputError(title, detail, suggestion string, err error) *UserError {
	return newError(KindInput, title, detail, suggestion, err)
}

func NewInternalError(title, detail, suggestion string, err error) *UserError {
	return newError(KindInternal, title, detail, suggestion, err)
}

func NewPermissionError(title, detail, suggestion string, err error) *UserError {
	return newError(KindPermission, title, detail, suggestion, err)
}

func NewNetworkError(title, detail, suggestion string, err error) *UserError {
	return newError(KindNetwork, title, detail, suggestion, err)
}

func NewDatabaseError(title, detail, suggestion string, err error) *UserError {
	return newError(KindDatabase, title, detail, suggestion, err)
}

// exitCode maps a Kind to the CLI exit status from the error handling
// design: config/input mistakes are usage errors (2), everything else
// that reaches FatalError is a fatal failure (1).
func exitCode(k Kind) int {
	switch k {
	case KindConfig, KindInput:
		return 2
	default:
		return 1
	}
}

// FatalError prints err (as a UserError if it is one, as a plain message
// otherwise) and exits the process with the kind-appropriate status.
// jsonMode selects JSON-object-on-stderr rendering for scripts that pipe
// --json output on stdout.
func FatalError(err error, jsonMode bool) {
	if err == nil {
		return
	}
	if ue, ok := err.(*UserError); ok {
		fmt.Fprintln(os.Stderr, ue.Format(jsonMode))
		os.Exit(exitCode(ue.Kind))
	}
	if jsonMode {
		b, _ := json.Marshal(jsonError{Error: err.Error()})
		fmt.Fprintln(os.Stderr, string(b))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
