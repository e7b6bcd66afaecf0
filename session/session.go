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

// Package session implements per-connection framing state:
// receive/send buffers, a pluggable codec, and the linear Connecting ->
// Connected -> Closing -> Closed lifecycle. The Poller owns the underlying
// connection and allocates its session id; the Service creates one
// *Session per poller session and keeps it in its own map keyed by that id.
package session

import (
	"sync"

	fabric "github.com/oysterpack/fabric"
	"github.com/oysterpack/fabric/packet"
)

// State is the Session lifecycle state.
type State int

// State enum values. Transitions are linear and monotonic.
const (
	Connecting State = iota
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CloseReason records why a session was closed.
type CloseReason int

const (
	ClosedByPeer CloseReason = iota
	ClosedByService
	ProtocolErrorReason
	IOErrorReason
)

// Session is one connection.
type Session struct {
	mu sync.Mutex

	id        uint64
	serviceId string
	peerAddr  string

	state State
	codec *packet.Codec

	recvBuf []byte
	sendBuf []byte

	highWaterMark int
	blocked       bool

	closeReason CloseReason
}

// New creates a Session in the Connecting state.
func New(id uint64, serviceId string, peerAddr string, codec *packet.Codec, highWaterMark int) *Session {
	return &Session{
		id:            id,
		serviceId:     serviceId,
		peerAddr:      peerAddr,
		state:         Connecting,
		codec:         codec,
		highWaterMark: highWaterMark,
	}
}

func (s *Session) Id() uint64        { return s.id }
func (s *Session) ServiceId() string { return s.serviceId }
func (s *Session) PeerAddr() string  { return s.peerAddr }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkConnected transitions Connecting -> Connected. No-op if already past
// Connecting.
func (s *Session) MarkConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Connecting {
		s.state = Connected
	}
}

// BeginClose transitions to Closing; Close completes once both buffers are
// drained.
func (s *Session) BeginClose(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.state = Closing
	s.closeReason = reason
}

// MaybeFinishClose transitions Closing -> Closed once recvBuf and sendBuf
// are both empty. Returns true if the session is now Closed.
func (s *Session) MaybeFinishClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Closing {
		return s.state == Closed
	}
	if len(s.recvBuf) == 0 && len(s.sendBuf) == 0 {
		s.state = Closed
		return true
	}
	return false
}

// ForceClose transitions directly to Closed, discarding any buffered
// receive/send bytes and bypassing the drain guard MaybeFinishClose
// otherwise enforces. Used when the close reason is that the received
// bytes themselves are unparseable (ProtocolError): the garbage bytes
// that triggered the close would otherwise sit in recvBuf forever,
// since nothing can ever decode them into a complete frame.
func (s *Session) ForceClose(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Closed
	s.closeReason = reason
	s.recvBuf = nil
	s.sendBuf = nil
}

func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Feed appends newly-read bytes to recvBuf and decodes as many complete
// packets as are available, returning them in receive order. On a
// Malformed frame it returns the error and the session must be closed
// with reason ProtocolError by the caller (the service loop) - Feed itself
// never changes state beyond buffering, to keep the "at most one in-flight
// Decode call per session" guarantee in the caller's hands.
func (s *Session) Feed(data []byte) ([]*packet.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recvBuf = append(s.recvBuf, data...)
	var packets []*packet.Packet
	for {
		p, result, consumed, err := s.codec.Decode(s.recvBuf)
		if err != nil {
			return packets, err
		}
		switch result {
		case packet.Consumed:
			p.SessionId = s.id
			packets = append(packets, p)
			s.recvBuf = s.recvBuf[consumed:]
		case packet.NeedMore:
			return packets, nil
		case packet.Malformed:
			return packets, &malformedError{}
		}
	}
}

// QueueSend encodes p and appends the wire bytes to sendBuf. Returns
// WouldBlock if sendBuf would exceed the per-session high-water mark.
func (s *Session) QueueSend(p *packet.Packet) ([]byte, error) {
	wire, err := s.codec.Encode(p)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.highWaterMark > 0 && len(s.sendBuf)+len(wire) > s.highWaterMark {
		return nil, &wouldBlockError{}
	}
	s.sendBuf = append(s.sendBuf, wire...)
	return wire, nil
}

// MarkBlocked latches the session's back-pressure state, returning
// whether it was already latched. The service loop uses the return value
// to notify components on the leading edge of back-pressure only, rather
// than on every subsequent QueueSend that returns WouldBlock.
func (s *Session) MarkBlocked() (wasBlocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasBlocked = s.blocked
	s.blocked = true
	return wasBlocked
}

// MarkWritable clears the session's back-pressure latch, called when the
// Poller reports the underlying connection accepted another write.
func (s *Session) MarkWritable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = false
}

// DrainSent removes n bytes from the front of sendBuf once the Poller
// confirms they were written.
func (s *Session) DrainSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.sendBuf) {
		n = len(s.sendBuf)
	}
	s.sendBuf = s.sendBuf[n:]
}

// PendingSend returns the bytes still queued to be written.
func (s *Session) PendingSend() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendBuf
}

type malformedError struct{}

func (*malformedError) Error() string { return "session: malformed frame" }

type wouldBlockError struct{}

func (*wouldBlockError) Error() string   { return "session: send buffer at high-water mark" }
func (*wouldBlockError) Kind() fabric.ErrKind { return fabric.WouldBlock }
