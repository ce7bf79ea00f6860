// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package errors provides the typed, status-coded errors used across sovoc.
// It is not part of the public query/store API surface; callers type-assert
// against Kind via As, the same way CouchDB clients key off an HTTP status.
package errors

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a sovoc error. The zero Kind is never produced.
type Kind int

const (
	// Conflict: write referenced a missing or tombstoned parent revision.
	Conflict Kind = iota + 1
	// BadRequest: malformed write arguments.
	BadRequest
	// BadSelector: invalid selector/projection/sort AST.
	BadSelector
	// NotFound: no matching document or revision.
	NotFound
	// StorageError: the backing SQLite engine failed.
	StorageError
)

func (k Kind) String() string {
	switch k {
	case Conflict:
		return "conflict"
	case BadRequest:
		return "bad_request"
	case BadSelector:
		return "bad_selector"
	case NotFound:
		return "not_found"
	case StorageError:
		return "storage_error"
	default:
		return "unknown"
	}
}

// couchReason is the word CouchDB clients expect in the "error" field of
// the JSON payload, which doesn't always match Kind.String().
func (k Kind) couchReason() string {
	switch k {
	case Conflict:
		return "conflict"
	case BadRequest:
		return "bad_request"
	case BadSelector:
		return "bad_selector"
	case NotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Error is a sovoc error tagged with a Kind, so callers can branch on the
// failure category without parsing the message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Status returns a new *Error with the given kind and message.
func Status(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Statusf is Status with fmt.Sprintf-style formatting.
func Statusf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// MarshalJSON renders the CouchDB-style {"error","reason"} payload
// CouchDB clients expect.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"error":  e.Kind.couchReason(),
		"reason": e.Message,
	})
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errors.Status(errors.Conflict, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Wrap bundles an existing error as an *Error of the given kind,
// preserving the cause via errors.Unwrap.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, cause: errors.WithStack(err)}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(err)}
}

// KindOf extracts the Kind from err, defaulting to StorageError for any
// error not produced by this package (e.g. a raw database/sql failure
// that escaped without being wrapped).
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return StorageError
}
