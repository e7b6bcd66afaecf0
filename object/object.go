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

// Package object implements the reference-counted base that
// every session, packet payload and component-owned resource embeds:
// an intrusive atomic refcount (Retain/Release, SafeRetain/SafeRelease for
// cross-thread use) plus thread-local auto-release pools that defer
// disposal until a well-defined drain point in the owning service's loop.
package object

import (
	"sync/atomic"

	fabric "github.com/oysterpack/fabric"
	"github.com/rs/zerolog/log"
)

// Disposer is invoked exactly once, when an Object's refcount reaches zero.
type Disposer func()

// Object is the substrate of anything participating in auto-release pools.
// Embed it in any type that needs Retain/Release semantics; the zero value
// is not usable — use New.
type Object struct {
	ref      int64
	autoRef  int64
	dispose  Disposer
	poolHome *Pool
}

// New creates an Object with refcount 1. dispose is called once, when the
// refcount drops to zero; it may be nil.
func New(dispose Disposer) *Object {
	return &Object{ref: 1, dispose: dispose}
}

// Ref returns the current refcount. Intended for tests and invariant
// checks.
func (o *Object) Ref() int64 { return atomic.LoadInt64(&o.ref) }

// AutoRef returns how many times this object is currently enlisted in pool
// frames.
func (o *Object) AutoRef() int64 { return atomic.LoadInt64(&o.autoRef) }

// Retain increments the refcount. Calling Retain on an object whose
// refcount has already reached zero is a programmer error: the object
// package has no build-tag-gated debug mode, so it simply panics - the
// same contract as calling Release too many times.
func (o *Object) Retain() {
	if atomic.AddInt64(&o.ref, 1) <= 1 {
		panic("object: Retain called on an object with ref == 0")
	}
}

// Release decrements the refcount using release-ordering on the decrement;
// when the count reaches zero the Disposer runs exactly once.
// Release is only safe to call from the thread that owns the object unless
// the object was retained via SafeRetain - use SafeRelease in that case.
func (o *Object) Release() {
	if atomic.AddInt64(&o.ref, -1) == 0 {
		if o.dispose != nil {
			o.dispose()
		}
	}
}

// SafeRetain is Retain for objects that may be released from a different
// goroutine than the one that retained them.
func (o *Object) SafeRetain() { o.Retain() }

// SafeRelease is Release for cross-thread use. The underlying operation is
// identical (atomic add/sub already gives us the ordering a cross-thread
// release requires); the distinct name documents intent at call sites the
// way pkg/actor's SafeRelease-equivalent commons.IgnorePanic documents intent.
func (o *Object) SafeRelease() { o.Release() }

// AutoRelease enlists the object in the calling goroutine's current pool
// frame. It does not change ref; draining the frame later calls Release
// exactly once per enlistment. Returns a *fabric.NotFoundError if the
// calling goroutine has no active pool - the package never implicitly
// creates one.
func (o *Object) AutoRelease() error {
	p := current()
	if p == nil {
		return &fabric.NotFoundError{Subject: "AutoReleasePool", Key: "current goroutine"}
	}
	if o.poolHome != nil && o.poolHome != p {
		log.Debug().Msg("object: AutoRelease enlisting into a different pool stack than a previous enlistment")
	}
	o.poolHome = p
	atomic.AddInt64(&o.autoRef, 1)
	p.enlist(o)
	return nil
}

// released is called by the owning Pool frame when it drains; it performs
// the one Release per enlistment and decrements autoRef.
func (o *Object) released() {
	atomic.AddInt64(&o.autoRef, -1)
	o.Release()
}
