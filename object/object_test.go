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

package object

import (
	"testing"
)

func TestRetainReleaseIsNoop(t *testing.T) {
	disposed := false
	o := New(func() { disposed = true })
	o.Retain()
	o.Release()
	if disposed {
		t.Fatal("object disposed too early")
	}
	if o.Ref() != 1 {
		t.Fatalf("expected ref == 1, got %d", o.Ref())
	}
	o.Release()
	if !disposed {
		t.Fatal("object was not disposed when ref reached 0")
	}
}

func TestAutoReleaseWithoutPoolFails(t *testing.T) {
	Unbind() // ensure this goroutine has no bound pool
	o := New(nil)
	if err := o.AutoRelease(); err == nil {
		t.Fatal("expected error enlisting with no active pool")
	}
}

func TestAutoReleaseDrainsExactlyOnce(t *testing.T) {
	pool := NewPool()
	Bind(pool)
	defer Unbind()

	released := 0
	o := New(func() { released++ })
	if err := o.AutoRelease(); err != nil {
		t.Fatalf("AutoRelease failed: %v", err)
	}
	if o.AutoRef() != 1 {
		t.Fatalf("expected autoRef == 1, got %d", o.AutoRef())
	}
	pool.DrainTopFrame()
	if released != 1 {
		t.Fatalf("expected exactly 1 release, got %d", released)
	}
	if o.AutoRef() != 0 {
		t.Fatalf("expected autoRef == 0 after drain, got %d", o.AutoRef())
	}
}

func TestNestedFramesDrainInReverseOrder(t *testing.T) {
	pool := NewPool()
	Bind(pool)
	defer Unbind()

	var order []int
	mk := func(i int) *Object { return New(func() { order = append(order, i) }) }

	pool.PushFrame()
	a := mk(1)
	b := mk(2)
	a.AutoRelease()
	b.AutoRelease()
	pool.PopFrame()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected reverse release order [2 1], got %v", order)
	}
}

func TestRetainOnZeroRefPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic retaining a dead object")
		}
	}()
	o := New(nil)
	o.Release()
	o.Retain()
}
