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
	"compress/zlib"
	"math"

	jsoniter "github.com/json-iterator/go"
	"zombiezen.com/go/capnproto2"
)

// Marshal encodes a Variant onto the wire as a zlib-compressed, packed
// capnp message, mirroring pkg/actor/message.go's Envelope.MarshalBinary
// (capnp for the envelope, zlib around the whole thing). Unlike
// message.go, this talks to the un-generated capnp.Struct API directly:
// the .capnp schema and codegen'd accessor package that message.go relies
// on (pkg/actor/msgs) aren't available outside the original source tree,
// so the struct layout below is built and read by hand instead of via
// generated Go types. List and Map values are serialised through
// json-iterator, the same library message.go uses for its String() method,
// and stored as a capnp Data pointer rather than as native capnp lists -
// this keeps the hand-rolled layout to one tag byte, one data word and one
// pointer regardless of the variant's kind.
func Marshal(v Variant) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, err
	}
	root, err := capnp.NewRootStruct(seg, capnp.ObjectSize{DataSize: 16, PointerCount: 1})
	if err != nil {
		return nil, err
	}
	root.SetUint8(0, uint8(v.kind))

	switch v.kind {
	case Int:
		root.SetUint64(8, uint64(v.i))
	case Float:
		root.SetUint64(8, math.Float64bits(v.f))
	case Bytes, String:
		data, err := capnp.NewData(seg, v.buf())
		if err != nil {
			return nil, err
		}
		if err := root.SetPtr(0, data.ToPtr()); err != nil {
			return nil, err
		}
	case List, Map:
		raw, err := jsoniter.Marshal(toGo(v))
		if err != nil {
			return nil, err
		}
		data, err := capnp.NewData(seg, raw)
		if err != nil {
			return nil, err
		}
		if err := root.SetPtr(0, data.ToPtr()); err != nil {
			return nil, err
		}
	}

	buf := new(bytes.Buffer)
	compressor := zlib.NewWriter(buf)
	encoder := capnp.NewPackedEncoder(compressor)
	if err := encoder.Encode(msg); err != nil {
		return nil, err
	}
	if err := compressor.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Variant previously produced by Marshal.
func Unmarshal(data []byte) (Variant, error) {
	decompressor, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return Variant{}, err
	}
	decoder := capnp.NewPackedDecoder(decompressor)
	msg, err := decoder.Decode()
	if err != nil {
		return Variant{}, err
	}
	rootPtr, err := msg.RootPtr()
	if err != nil {
		return Variant{}, err
	}
	st := rootPtr.Struct()
	kind := Kind(st.Uint8(0))

	switch kind {
	case Null:
		return NullValue, nil
	case Int:
		return IntValue(int64(st.Uint64(8))), nil
	case Float:
		return FloatValue(math.Float64frombits(st.Uint64(8))), nil
	case Bytes:
		ptr, err := st.Ptr(0)
		if err != nil {
			return Variant{}, err
		}
		return BytesValue(ptr.Data()), nil
	case String:
		ptr, err := st.Ptr(0)
		if err != nil {
			return Variant{}, err
		}
		return StringValue(string(ptr.Data())), nil
	case List, Map:
		ptr, err := st.Ptr(0)
		if err != nil {
			return Variant{}, err
		}
		var generic interface{}
		if err := jsoniter.Unmarshal(ptr.Data(), &generic); err != nil {
			return Variant{}, err
		}
		return fromGo(generic), nil
	default:
		return Variant{}, &unknownKindError{kind}
	}
}

type unknownKindError struct{ kind Kind }

func (e *unknownKindError) Error() string { return "variant: unknown kind on the wire: " + e.kind.String() }

// toGo converts a Variant to a plain interface{} tree suitable for
// json-iterator, used only for the List/Map branch of Marshal.
func toGo(v Variant) interface{} {
	switch v.kind {
	case Null:
		return nil
	case Int:
		return v.i
	case Float:
		return v.f
	case Bytes:
		return v.buf()
	case String:
		return string(v.buf())
	case List:
		out := make([]interface{}, len(v.list))
		for i, e := range v.list {
			out[i] = toGo(e)
		}
		return out
	case Map:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = toGo(e)
		}
		return out
	default:
		return nil
	}
}

// fromGo converts a json-iterator-decoded interface{} tree back into a
// Variant tree.
func fromGo(x interface{}) Variant {
	switch t := x.(type) {
	case nil:
		return NullValue
	case float64:
		return FloatValue(t)
	case string:
		return StringValue(t)
	case bool:
		if t {
			return IntValue(1)
		}
		return IntValue(0)
	case []interface{}:
		items := make([]Variant, len(t))
		for i, e := range t {
			items[i] = fromGo(e)
		}
		return ListValue(items)
	case map[string]interface{}:
		m := make(map[string]Variant, len(t))
		for k, e := range t {
			m[k] = fromGo(e)
		}
		return MapValue(m)
	default:
		return NullValue
	}
}
