// Copyright (c) 2017 OysterPack, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fabric is the root of the service/component runtime: a
// long-running process hosts named Services, each owning an event loop, a
// set of pluggable Components, and a network endpoint exchanging
// length-prefixed Packets with remote peers.
//
// Sub-packages:
//
//	object    - intrusive refcount + auto-release pools
//	timer     - monotonic timer wheel
//	mq        - MPSC envelope queue
//	poller    - non-blocking socket multiplexer
//	variant   - self-describing dynamic value used for method-table args
//	packet    - framed application message + codec chain
//	component - component lifecycle, registry, method table
//	service   - the per-service event loop
//	manager   - process-wide service directory
//	config    - parsed service configuration tree
//	metrics   - prometheus wrappers
//	capi      - C-ABI façade for language bindings
package fabric

import "fmt"

// ErrKind is the error taxonomy shared across every sub-package.
// Functions return ordinary Go errors; callers that need to branch on
// taxonomy type-assert for the Kinder interface below rather than
// string-matching.
type ErrKind int

// ErrKind enum values.
const (
	Arg ErrKind = iota
	NotFound
	Repeat
	State
	ProtocolError
	WouldBlock
	Closed
	Timeout
	Internal
)

func (k ErrKind) String() string {
	switch k {
	case Arg:
		return "Arg"
	case NotFound:
		return "NotFound"
	case Repeat:
		return "Repeat"
	case State:
		return "State"
	case ProtocolError:
		return "ProtocolError"
	case WouldBlock:
		return "WouldBlock"
	case Closed:
		return "Closed"
	case Timeout:
		return "Timeout"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("ErrKind(%d)", int(k))
	}
}

// Kinder is implemented by every error type in this module that carries
// an ErrKind.
type Kinder interface {
	error
	Kind() ErrKind
}

// Error is a generic Kinder implementation used where a dedicated typed
// error would be overkill.
type Error struct {
	Kind_   ErrKind
	Message string
}

func NewError(kind ErrKind, message string) *Error {
	return &Error{Kind_: kind, Message: message}
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Kind() ErrKind { return e.Kind_ }

// PanicError wraps a recovered panic value, converted at a dispatch or
// callback boundary the way pkg/service/service.go's trapPanics does.
type PanicError struct {
	Panic   interface{}
	Message string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Message, e.Panic)
}

func (e *PanicError) Kind() ErrKind { return Internal }

// NotFoundError indicates a lookup miss (component, method, session, ...).
type NotFoundError struct {
	Subject string
	Key     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Subject, e.Key)
}

func (e *NotFoundError) Kind() ErrKind { return NotFound }

// RepeatError indicates a duplicate registration.
type RepeatError struct {
	Subject string
	Key     string
}

func (e *RepeatError) Error() string {
	return fmt.Sprintf("%s already registered: %s", e.Subject, e.Key)
}

func (e *RepeatError) Kind() ErrKind { return Repeat }

// StateError indicates an operation attempted in the wrong lifecycle phase.
type StateError struct {
	Op      string
	Current fmt.Stringer
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: invalid in state %s", e.Op, e.Current)
}

func (e *StateError) Kind() ErrKind { return State }
