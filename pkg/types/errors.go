// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies runtime failures surfaced to agents and callers.
type ErrorKind string

const (
	// UnknownIdentifier means the router could not resolve the target.
	UnknownIdentifier ErrorKind = "UnknownIdentifier"
	// MalformedEnvelope means the destination/channel combination is invalid.
	MalformedEnvelope ErrorKind = "MalformedEnvelope"
	// InboxFull means the target inbox stayed over capacity past the
	// enqueue timeout.
	InboxFull ErrorKind = "InboxFull"
	// HandlerCrash means an agent handler failed; the step was aborted.
	HandlerCrash ErrorKind = "HandlerCrash"
	// Timeout means a service request missed its deadline.
	Timeout ErrorKind = "Timeout"
	// DuplicateInvocation means an invocation id was re-submitted.
	DuplicateInvocation ErrorKind = "DuplicateInvocation"
	// Cancelled means shutdown interrupted the operation.
	Cancelled ErrorKind = "Cancelled"
)

// Error is a runtime error carrying a kind. It serializes into service
// observations and diagnostic events.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// NewError creates an Error with a formatted detail.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
