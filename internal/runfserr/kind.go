// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package runfserr defines the error kinds used by runfs's internal
// engine packages (internal/dre). The filesystem handlers in
// internal/runfs do not use these kinds; they return kernel-bridge errno
// values directly.
package runfserr

import "errors"

// Kind is one of the error kinds from spec §7.
type Kind int

const (
	// NoEntry: entry absent, or declared invalid by this call.
	NoEntry Kind = iota
	// NoMem: allocation failed; retry is the caller's prerogative.
	NoMem
	// IO: the process probe failed transiently.
	IO
	// Denied: cannot read process metadata.
	Denied
	// Nosys: should-never-happen internal consistency failure.
	Nosys
	// Invalid: misuse of an engine API.
	Invalid
)

// Error pairs a Kind with the underlying cause, if any.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := [...]string{"no entry", "no memory", "i/o error", "permission denied", "internal error", "invalid argument"}[e.Kind]
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind wrapping err (which may be
// nil).
func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err is a runfserr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
