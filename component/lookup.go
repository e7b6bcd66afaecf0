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
	"reflect"

	fabric "github.com/oysterpack/fabric"
)

// assignIfAssignable backs the typed Lookup helper: out
// must be a non-nil pointer whose pointed-to type c is assignable to,
// the way pkg/comp's Interface-cast lookups work, minus the capnp
// reflection machinery this module doesn't need.
func assignIfAssignable(c Component, out interface{}) error {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return &fabric.Error{Kind_: fabric.Arg, Message: "Lookup: out must be a non-nil pointer"}
	}
	elem := v.Elem()
	cv := reflect.ValueOf(c)
	if !cv.Type().AssignableTo(elem.Type()) {
		return &fabric.Error{Kind_: fabric.Arg, Message: "Lookup: " + c.Name() + " does not implement " + elem.Type().String()}
	}
	elem.Set(cv)
	return nil
}
