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

package component

import (
	"sync"

	fabric "github.com/oysterpack/fabric"
	"github.com/oysterpack/fabric/variant"
)

// methodIndexThreshold is the point at which an entry's method lookup
// switches from a linear scan over Methods() to a hash map: fewer than
// ~30 methods favors a linear scan; beyond that, a map pays for itself.
const methodIndexThreshold = 30

type entry struct {
	comp  Component
	state Lifecycle

	methods     []Method
	methodIndex map[string]int // built in Register when len(methods) > methodIndexThreshold
}

func (e *entry) method(name string) (*Method, bool) {
	if e.methodIndex != nil {
		if i, ok := e.methodIndex[name]; ok {
			return &e.methods[i], true
		}
		return nil, false
	}
	for i := range e.methods {
		if e.methods[i].Name == name {
			return &e.methods[i], true
		}
	}
	return nil, false
}

// Registry is the ordered collection of Components a Service hosts.
// Registration order is preserved and drives the order lifecycle hooks
// fire in, grounded on pkg/comp/registry.go's Registry / pkg/service's
// ordered component list.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*entry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*entry)}
}

// Register adds a Component under its own Name(). Registration order is
// preserved for lifecycle fan-out. Returns a RepeatError if the name is
// already registered.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, exists := r.byName[name]; exists {
		return &fabric.RepeatError{Subject: "component", Key: name}
	}
	methods := c.Methods()
	e := &entry{comp: c, state: Created, methods: methods}
	if len(methods) > methodIndexThreshold {
		e.methodIndex = make(map[string]int, len(methods))
		for i, m := range methods {
			e.methodIndex[m.Name] = i
		}
	}
	r.byName[name] = e
	r.order = append(r.order, name)
	return nil
}

// Get returns the named Component.
func (r *Registry) Get(name string) (Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, &fabric.NotFoundError{Subject: "component", Key: name}
	}
	return e.comp, nil
}

// Names returns the registered component names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) transition(name string, from, to Lifecycle, op string, call func(c Component) error) error {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return &fabric.NotFoundError{Subject: "component", Key: name}
	}
	r.mu.Lock()
	if e.state != from {
		r.mu.Unlock()
		return stateError(op, e.state)
	}
	r.mu.Unlock()

	if err := call(e.comp); err != nil {
		return err
	}

	r.mu.Lock()
	e.state = to
	r.mu.Unlock()
	return nil
}

// InitAll calls OnInit on every component in registration order, stopping
// at the first error.
func (r *Registry) InitAll(ctx *Context) error {
	for _, name := range r.Names() {
		if err := r.transition(name, Created, Initialized, "OnInit", func(c Component) error { return c.OnInit(ctx) }); err != nil {
			return err
		}
	}
	return nil
}

// StartAll calls OnStart on every component in registration order.
func (r *Registry) StartAll(ctx *Context) error {
	for _, name := range r.Names() {
		if err := r.transition(name, Initialized, Started, "OnStart", func(c Component) error { return c.OnStart(ctx) }); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAll calls OnUpdate on every Started component in registration
// order; this is invoked once per service tick.
func (r *Registry) UpdateAll(ctx *Context) error {
	for _, name := range r.Names() {
		r.mu.RLock()
		e, ok := r.byName[name]
		r.mu.RUnlock()
		if !ok || e.state != Started {
			continue
		}
		if err := e.comp.OnUpdate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll calls OnStop in reverse registration order, mirroring
// pkg/comp registry's teardown order.
func (r *Registry) StopAll(ctx *Context) error {
	names := r.Names()
	var firstErr error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		r.mu.RLock()
		e, ok := r.byName[name]
		r.mu.RUnlock()
		if !ok || e.state != Started {
			continue
		}
		if err := r.transition(name, Started, Stopped, "OnStop", func(c Component) error { return c.OnStop(ctx) }); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DestroyAll calls OnDestroy in reverse registration order.
func (r *Registry) DestroyAll(ctx *Context) error {
	names := r.Names()
	var firstErr error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		r.mu.RLock()
		e, ok := r.byName[name]
		r.mu.RUnlock()
		if !ok || e.state == Destroyed {
			continue
		}
		if err := r.transition(name, e.state, Destroyed, "OnDestroy", func(c Component) error { return c.OnDestroy(ctx) }); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NotifyBackPressure calls OnBackPressure on every Started component, in
// registration order, collecting the first error. The service loop calls
// this when a session's sendBuf hits its high-water mark.
func (r *Registry) NotifyBackPressure(ctx *Context, sessionId uint64) error {
	var firstErr error
	for _, name := range r.Names() {
		r.mu.RLock()
		e, ok := r.byName[name]
		r.mu.RUnlock()
		if !ok || e.state != Started {
			continue
		}
		if err := e.comp.OnBackPressure(ctx, sessionId); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CallMethod invokes a named method on a named component.
func (r *Registry) CallMethod(ctx *Context, compName, methodName string, args variant.Variant) (variant.Variant, error) {
	r.mu.RLock()
	e, ok := r.byName[compName]
	r.mu.RUnlock()
	if !ok {
		return variant.NullValue, &fabric.NotFoundError{Subject: "component", Key: compName}
	}
	m, ok := e.method(methodName)
	if !ok {
		return variant.NullValue, &fabric.NotFoundError{Subject: "method", Key: compName + "." + methodName}
	}
	return m.Func(ctx, args)
}

// Lookup fetches a component and type-asserts it to T, returning a
// NotFound error if the component is missing and an Arg error if it does
// not implement T. There are no generics in this toolchain's target Go
// version, so T is expressed as an out pointer the way encoding/json's
// Unmarshal does.
func Lookup(r *Registry, name string, out interface{}) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	switch o := out.(type) {
	case *Component:
		*o = c
		return nil
	default:
		return assignIfAssignable(c, out)
	}
}
