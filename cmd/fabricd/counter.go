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

package main

import (
	"sync/atomic"

	"github.com/Masterminds/semver"

	"github.com/oysterpack/fabric/component"
	"github.com/oysterpack/fabric/variant"
)

// counter is the fabricd equivalent of cmd/demos/services/counter: a
// Component exposing a single monotonic counter through its method
// table instead of a hand-rolled service interface.
type counter struct {
	component.Base
	n int64
}

func (c *counter) Name() string { return "counter" }

func (c *counter) Version() *semver.Version {
	v, _ := semver.NewVersion("1.0.0")
	return v
}

func (c *counter) Methods() []component.Method {
	return []component.Method{
		{Name: "next", Func: c.next},
		{Name: "value", Func: c.value},
	}
}

func (c *counter) next(ctx *component.Context, args variant.Variant) (variant.Variant, error) {
	return variant.IntValue(atomic.AddInt64(&c.n, 1)), nil
}

func (c *counter) value(ctx *component.Context, args variant.Variant) (variant.Variant, error) {
	return variant.IntValue(atomic.LoadInt64(&c.n)), nil
}
