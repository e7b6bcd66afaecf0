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

// Package component implements the pluggable unit a Service hosts: a
// named, versioned Component with a deterministic
// OnInit/OnStart/OnUpdate/OnStop/OnDestroy lifecycle and a method table
// that lets other components and remote peers invoke it by name with a
// variant.Variant argument/result, grounded on pkg/comp/component.go's
// Component interface and pkg/comp/registry.go's Registry.
package component

import (
	"github.com/Masterminds/semver"

	fabric "github.com/oysterpack/fabric"
	"github.com/oysterpack/fabric/timer"
	"github.com/oysterpack/fabric/variant"
)

// Lifecycle is a Component's current phase.
type Lifecycle int

const (
	Created Lifecycle = iota
	Initialized
	Started
	Stopped
	Destroyed
)

func (l Lifecycle) String() string {
	switch l {
	case Created:
		return "Created"
	case Initialized:
		return "Initialized"
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	case Destroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// Context is handed to every lifecycle and method call so a Component can
// reach its sibling components (through the owning Registry) and arm its
// own timers (through Timers) without holding a direct reference to the
// Service.
type Context struct {
	NowMs    int64
	Registry *Registry
	Timers   *timer.Wheel
}

// Method is one entry in a Component's method table.
type Method struct {
	Name string
	Func func(ctx *Context, args variant.Variant) (variant.Variant, error)
}

// Component is a unit of functionality a Service hosts and drives through
// its lifecycle once per tick (OnUpdate).
type Component interface {
	Name() string
	Version() *semver.Version

	OnInit(ctx *Context) error
	OnStart(ctx *Context) error
	OnUpdate(ctx *Context) error
	OnStop(ctx *Context) error
	OnDestroy(ctx *Context) error

	// OnBackPressure is called when a session this component has been
	// writing to hits its send high-water mark, so the component can
	// throttle or drop further output until the session drains.
	OnBackPressure(ctx *Context, sessionId uint64) error

	Methods() []Method
}

// Dependencies maps a Component's required peer components to a version
// constraint, mirroring pkg/comp/component.go's Dependencies map.
type Dependencies map[string]*semver.Constraints

// Base is embedded by concrete components that don't need every lifecycle
// hook, leaving the no-op hooks as cheap default methods.
type Base struct{}

func (Base) OnInit(*Context) error                 { return nil }
func (Base) OnStart(*Context) error                { return nil }
func (Base) OnUpdate(*Context) error                { return nil }
func (Base) OnStop(*Context) error                  { return nil }
func (Base) OnDestroy(*Context) error               { return nil }
func (Base) OnBackPressure(*Context, uint64) error  { return nil }
func (Base) Methods() []Method                      { return nil }

// stateError builds the taxonomy error for an out-of-order lifecycle call.
func stateError(op string, current Lifecycle) error {
	return &fabric.StateError{Op: op, Current: current}
}
