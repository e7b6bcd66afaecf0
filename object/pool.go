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
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Pool is a LIFO stack of AutoReleasePool frames for one goroutine. Push
// and pop must nest strictly within the owning goroutine; draining a frame
// releases its objects in reverse insertion order.
//
// Go has no first-class thread-local storage, so every service event loop
// goroutine binds its Pool once via Bind at loop start and Unbind at loop
// exit; lookups in between are keyed off the calling goroutine's id.
type Pool struct {
	frames []*frame
	mu     sync.Mutex
}

type frame struct {
	objects []*Object
}

// NewPool creates an empty pool stack.
func NewPool() *Pool {
	return &Pool{}
}

// PushFrame opens a new nested frame. Handlers that want request-scoped
// auto-release semantics distinct from the loop's per-tick frame push one
// at entry and must Pop it before returning.
func (p *Pool) PushFrame() {
	p.mu.Lock()
	p.frames = append(p.frames, &frame{})
	p.mu.Unlock()
}

// PopFrame drains and removes the innermost frame. Draining releases
// objects in reverse insertion order.
func (p *Pool) PopFrame() {
	p.mu.Lock()
	n := len(p.frames)
	if n == 0 {
		p.mu.Unlock()
		return
	}
	f := p.frames[n-1]
	p.frames = p.frames[:n-1]
	p.mu.Unlock()
	drain(f)
}

// DrainTopFrame drains the innermost frame's enlistments without popping
// it - this is what the service loop calls once per tick: the loop's own
// frame stays pushed for the service's lifetime, only its contents are
// flushed each tick.
func (p *Pool) DrainTopFrame() {
	p.mu.Lock()
	n := len(p.frames)
	if n == 0 {
		p.mu.Unlock()
		return
	}
	f := p.frames[n-1]
	objects := f.objects
	f.objects = nil
	p.mu.Unlock()
	for i := len(objects) - 1; i >= 0; i-- {
		objects[i].released()
	}
}

func drain(f *frame) {
	for i := len(f.objects) - 1; i >= 0; i-- {
		f.objects[i].released()
	}
}

func (p *Pool) enlist(o *Object) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.frames)
	if n == 0 {
		// No active frame even though the pool itself is bound; pushing
		// an implicit frame here would mask a caller bug, so this drops
		// the enlistment silently instead. The caller already received
		// a NotFoundError from AutoRelease before we get here in the
		// normal case. This path is only reachable if a frame was
		// popped concurrently, which a single owning goroutine cannot
		// do to itself.
		return
	}
	p.frames[n-1].objects = append(p.frames[n-1].objects, o)
}

// Depth reports how many nested frames are currently pushed.
func (p *Pool) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

var (
	bindingsMu sync.RWMutex
	bindings   = map[uint64]*Pool{}
)

// Bind registers pool as the current goroutine's auto-release pool stack
// and pushes its first frame. A service event loop calls this once at
// startup.
func Bind(pool *Pool) {
	if pool.Depth() == 0 {
		pool.PushFrame()
	}
	id := goroutineID()
	bindingsMu.Lock()
	bindings[id] = pool
	bindingsMu.Unlock()
}

// Unbind removes the current goroutine's binding, draining every remaining
// frame in reverse order. A service event loop calls this on exit.
func Unbind() {
	id := goroutineID()
	bindingsMu.Lock()
	pool := bindings[id]
	delete(bindings, id)
	bindingsMu.Unlock()
	if pool == nil {
		return
	}
	for pool.Depth() > 0 {
		pool.PopFrame()
	}
}

// current returns the calling goroutine's bound pool, or nil if none is
// bound.
func current() *Pool {
	id := goroutineID()
	bindingsMu.RLock()
	defer bindingsMu.RUnlock()
	return bindings[id]
}

// goroutineID extracts the runtime-assigned goroutine id from the stack
// trace header. This is the standard workaround for Go's lack of
// first-class thread-local storage; it is only used to key the pool-stack
// binding map, never for scheduling decisions.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
