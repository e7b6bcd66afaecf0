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

// Package variant implements a self-describing dynamic value used as the
// argument/result type for inter-component method calls: null, int,
// float, bytes, string, list[Variant], map[string]Variant. Small
// string/byte payloads are held inline to avoid a heap allocation per
// call - a tagged variant with small-buffer optimisation.
package variant

import "fmt"

// Kind enumerates the Variant cases.
type Kind uint8

// Kind enum values.
const (
	Null Kind = iota
	Int
	Float
	Bytes
	String
	List
	Map
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "Null"
	case Int:
		return "Int"
	case Float:
		return "Float"
	case Bytes:
		return "Bytes"
	case String:
		return "String"
	case List:
		return "List"
	case Map:
		return "Map"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// smallBufLen is the inline capacity for String/Bytes values before
// falling back to a heap-allocated slice.
const smallBufLen = 24

// Variant is a self-describing dynamic value. The zero value is Null.
type Variant struct {
	kind Kind

	i int64
	f float64

	small    [smallBufLen]byte
	smallLen int8 // -1 means "use big" instead of the inline array
	big      []byte

	list []Variant
	m    map[string]Variant
}

// NullValue is the canonical Null Variant.
var NullValue = Variant{kind: Null}

// IntValue wraps an integer.
func IntValue(i int64) Variant { return Variant{kind: Int, i: i} }

// FloatValue wraps a float.
func FloatValue(f float64) Variant { return Variant{kind: Float, f: f} }

// BytesValue wraps a byte buffer.
func BytesValue(b []byte) Variant {
	v := Variant{kind: Bytes}
	v.setBuf(b)
	return v
}

// StringValue wraps a string.
func StringValue(s string) Variant {
	v := Variant{kind: String}
	v.setBuf([]byte(s))
	return v
}

// ListValue wraps a list of Variants.
func ListValue(items []Variant) Variant {
	return Variant{kind: List, list: items}
}

// MapValue wraps a string-keyed map of Variants.
func MapValue(m map[string]Variant) Variant {
	return Variant{kind: Map, m: m}
}

func (v *Variant) setBuf(b []byte) {
	if len(b) <= smallBufLen {
		v.smallLen = int8(copy(v.small[:], b))
	} else {
		v.smallLen = -1
		v.big = append([]byte(nil), b...)
	}
}

func (v Variant) buf() []byte {
	if v.smallLen >= 0 {
		return v.small[:v.smallLen]
	}
	return v.big
}

// Kind returns the Variant's case.
func (v Variant) Kind() Kind { return v.kind }

// Int returns the wrapped integer; zero if Kind() != Int.
func (v Variant) Int() int64 { return v.i }

// Float returns the wrapped float; zero if Kind() != Float.
func (v Variant) Float() float64 { return v.f }

// Bytes returns the wrapped byte buffer; nil if Kind() is neither Bytes
// nor String.
func (v Variant) Bytes() []byte {
	if v.kind != Bytes && v.kind != String {
		return nil
	}
	return v.buf()
}

// String returns the wrapped string, or a debug rendering for other
// kinds.
func (v Variant) String() string {
	switch v.kind {
	case Null:
		return "null"
	case Int:
		return fmt.Sprintf("%d", v.i)
	case Float:
		return fmt.Sprintf("%g", v.f)
	case Bytes:
		return fmt.Sprintf("%x", v.buf())
	case String:
		return string(v.buf())
	case List:
		return fmt.Sprintf("%v", v.list)
	case Map:
		return fmt.Sprintf("%v", v.m)
	default:
		return "<invalid variant>"
	}
}

// List returns the wrapped list; nil if Kind() != List.
func (v Variant) List() []Variant { return v.list }

// Map returns the wrapped map; nil if Kind() != Map.
func (v Variant) Map() map[string]Variant { return v.m }

// IsNull reports whether this is the Null variant.
func (v Variant) IsNull() bool { return v.kind == Null }
