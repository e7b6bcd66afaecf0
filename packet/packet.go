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

// Package packet implements the framed application message and the pluggable per-service codec chain.
// Encoding applies layers in reverse registration order; decoding applies
// them forward, mirroring the compress-then-envelope layering in
// pkg/actor/message.go's Envelope Marshal/Unmarshal.
package packet

// Flags is a bitset carried on every Packet.
type Flags uint16

// Flag bits.
const (
	Reliable Flags = 1 << iota
	Broadcast
	Oneway
	ExpectReply
	CloseOnError
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Packet is a framed application message exchanged between a Session and
// a Service.
type Packet struct {
	Opcode    uint32
	Serial    uint64
	Status    int32
	Flags     Flags
	SessionId uint64
	Payload   []byte
}

// Reply builds a reply packet carrying the same serial as p, since
// reply packets must carry the originating request's serial.
func (p *Packet) Reply(status int32, payload []byte) *Packet {
	return &Packet{
		Opcode:    p.Opcode,
		Serial:    p.Serial,
		Status:    status,
		SessionId: p.SessionId,
		Payload:   payload,
	}
}
