// Copyright 2025 Appherd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package result implements the value-plus-message pair used by all public
// resource operations instead of exceptions. Expected failure modes never
// cross a public API boundary as an error; they come back as a Result whose
// Message explains what happened. A Message may also accompany a successful
// value for notable non-fatal outcomes (e.g. "already running").
package result

import "fmt"

// Result pairs an operation's value with an optional diagnostic message.
// The zero Result carries the type's zero value and no message.
type Result[T any] struct {
	// Value is the operation's payload. On failure it is the zero value of T.
	Value T

	// Message is non-empty exactly when something notable happened, which
	// includes both failures and non-fatal successes.
	Message string
}

// OK returns a successful Result carrying value and no message.
func OK[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Note returns a successful Result carrying value together with a
// noteworthy message, e.g. "already running".
func Note[T any](value T, format string, args ...any) Result[T] {
	return Result[T]{Value: value, Message: fmt.Sprintf(format, args...)}
}

// Fail returns a failed Result carrying the zero value and the given message.
func Fail[T any](format string, args ...any) Result[T] {
	return Result[T]{Message: fmt.Sprintf(format, args...)}
}

// FromError converts an unexpected error into a failed Result. A nil error
// yields OK(value).
func FromError[T any](value T, err error) Result[T] {
	if err != nil {
		return Fail[T]("%s", err.Error())
	}

	return OK(value)
}

// HasMessage reports whether the Result carries a diagnostic message.
func (r Result[T]) HasMessage() bool {
	return r.Message != ""
}

// String renders the Result for logging.
func (r Result[T]) String() string {
	if r.Message == "" {
		return fmt.Sprintf("Result(%v)", r.Value)
	}

	return fmt.Sprintf("Result(%v, %q)", r.Value, r.Message)
}
