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

package packet

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io/ioutil"

	fabric "github.com/oysterpack/fabric"
)

// headerLen is the byte length of everything the wire length prefix
// counts: opcode(4) + serial(8) + status(4) + flags(2).
const headerLen = 4 + 8 + 4 + 2

// DecodeResult reports how much of a Decode call's input was consumed.
type DecodeResult int

const (
	// NeedMore means the buffer does not yet hold a complete frame;
	// the caller must read more bytes and retry.
	NeedMore DecodeResult = iota
	// Consumed means a packet was fully decoded.
	Consumed
	// Malformed means the buffer can never be completed into a valid
	// frame (bad length, oversize, ...); the session must close with
	// reason ProtocolError.
	Malformed
)

// Layer is one entry in a per-service codec chain:
// compression, encryption, framing, ... Encode applies layers in reverse
// registration order; Decode applies them forward.
type Layer interface {
	Encode(in []byte) ([]byte, error)
	Decode(in []byte) (out []byte, result DecodeResult, consumed int, err error)
}

// Codec turns Packets into wire bytes and back, guaranteeing at most one
// in-flight Decode call per session.
type Codec struct {
	maxSize uint32
	layers  []Layer
}

// NewCodec builds the default codec: the fixed wire framing layer,
// optionally followed by additional layers (compression, encryption).
// maxSize bounds the framed body the length prefix counts (header plus
// payload, after any extra layers); 0 means "use DefaultMaxSize".
func NewCodec(maxSize uint32, extra ...Layer) *Codec {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	c := &Codec{maxSize: maxSize}
	c.layers = append(c.layers, extra...)
	return c
}

// DefaultMaxSize is used when NewCodec is given a maxSize of 0.
const DefaultMaxSize = 1 << 20 // 1 MiB

// Encode serialises a Packet to wire bytes: the fixed frame layer runs
// last (outermost), so additional layers (e.g. compression) see the raw
// opcode/serial/status/flags/payload header+body and wrap it further.
func (c *Codec) Encode(p *Packet) ([]byte, error) {
	body := make([]byte, headerLen+len(p.Payload))
	binary.BigEndian.PutUint32(body[0:4], p.Opcode)
	binary.BigEndian.PutUint64(body[4:12], p.Serial)
	binary.BigEndian.PutUint32(body[12:16], uint32(p.Status))
	binary.BigEndian.PutUint16(body[16:18], uint16(p.Flags))
	copy(body[headerLen:], p.Payload)

	// apply layers in reverse registration order
	for i := len(c.layers) - 1; i >= 0; i-- {
		var err error
		body, err = c.layers[i].Encode(body)
		if err != nil {
			return nil, err
		}
	}

	if uint32(len(body)) > c.maxSize {
		return nil, &fabric.Error{Kind_: fabric.ProtocolError, Message: "packet exceeds maxSize"}
	}

	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed[0:4], uint32(len(body)))
	copy(framed[4:], body)
	return framed, nil
}

// Decode consumes bytes from buf, returning how many bytes were consumed
// and whether a full frame was produced. On Malformed, the caller must
// close the owning session with reason ProtocolError.
func (c *Codec) Decode(buf []byte) (*Packet, DecodeResult, int, error) {
	if len(buf) < 4 {
		return nil, NeedMore, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length > c.maxSize {
		return nil, Malformed, 0, &fabric.Error{Kind_: fabric.ProtocolError, Message: "frame length exceeds maxSize"}
	}
	total := 4 + int(length)
	if len(buf) < total {
		return nil, NeedMore, 0, nil
	}
	body := buf[4:total]

	for _, layer := range c.layers {
		out, result, _, err := layer.Decode(body)
		if err != nil {
			return nil, Malformed, 0, err
		}
		if result != Consumed {
			return nil, Malformed, 0, &fabric.Error{Kind_: fabric.ProtocolError, Message: "codec layer could not decode framed body"}
		}
		body = out
	}

	if len(body) < headerLen {
		return nil, Malformed, 0, &fabric.Error{Kind_: fabric.ProtocolError, Message: "frame body shorter than header"}
	}

	p := &Packet{
		Opcode: binary.BigEndian.Uint32(body[0:4]),
		Serial: binary.BigEndian.Uint64(body[4:12]),
		Status: int32(binary.BigEndian.Uint32(body[12:16])),
		Flags:  Flags(binary.BigEndian.Uint16(body[16:18])),
	}
	p.Payload = append([]byte(nil), body[headerLen:]...)
	return p, Consumed, total, nil
}

// ZlibLayer is an optional compression Layer, mirroring the
// compress/zlib use in pkg/actor/message.go's Envelope Marshal/Unmarshal.
type ZlibLayer struct{}

func (ZlibLayer) Encode(in []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := zlib.NewWriter(buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (ZlibLayer) Decode(in []byte) ([]byte, DecodeResult, int, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, Malformed, 0, err
	}
	defer r.Close()
	out, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, Malformed, 0, err
	}
	return out, Consumed, len(in), nil
}
