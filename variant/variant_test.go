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

package variant

import (
	"bytes"
	"testing"
)

func TestRoundTripScalars(t *testing.T) {
	cases := []Variant{
		NullValue,
		IntValue(42),
		IntValue(-7),
		FloatValue(3.5),
		StringValue("hello"),
		BytesValue([]byte{1, 2, 3, 4}),
	}
	for _, v := range cases {
		raw, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", v, err)
		}
		got, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got.Kind() != v.Kind() {
			t.Fatalf("kind mismatch: want %v got %v", v.Kind(), got.Kind())
		}
		switch v.Kind() {
		case Int:
			if got.Int() != v.Int() {
				t.Fatalf("int mismatch: want %d got %d", v.Int(), got.Int())
			}
		case Float:
			if got.Float() != v.Float() {
				t.Fatalf("float mismatch: want %v got %v", v.Float(), got.Float())
			}
		case String:
			if got.String() != v.String() {
				t.Fatalf("string mismatch: want %q got %q", v.String(), got.String())
			}
		case Bytes:
			if !bytes.Equal(got.Bytes(), v.Bytes()) {
				t.Fatalf("bytes mismatch: want %x got %x", v.Bytes(), got.Bytes())
			}
		}
	}
}

func TestRoundTripListAndMap(t *testing.T) {
	v := ListValue([]Variant{IntValue(1), StringValue("two"), MapValue(map[string]Variant{
		"k": IntValue(3),
	})})
	raw, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind() != List || len(got.List()) != 3 {
		t.Fatalf("expected a 3-element list, got %v", got)
	}
}

func TestSmallBufferOptimizationBoundary(t *testing.T) {
	small := StringValue("0123456789012345678901234") // 25 chars, one over inline cap (24)... actually test exact boundary below
	_ = small
	exact := StringValue(string(make([]byte, smallBufLen)))
	if exact.smallLen < 0 {
		t.Fatal("expected exactly smallBufLen bytes to stay inline")
	}
	over := StringValue(string(make([]byte, smallBufLen+1)))
	if over.smallLen >= 0 {
		t.Fatal("expected smallBufLen+1 bytes to spill to the heap buffer")
	}
}
