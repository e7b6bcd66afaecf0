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

package manager

import (
	"encoding/binary"
	"errors"

	"github.com/nats-io/go-nats"

	"github.com/oysterpack/fabric/mq"
	"github.com/oysterpack/fabric/packet"
)

// NatsBridge forwards packets destined for a named service running in a
// different process, publishing and subscribing on subjects derived
// from the service name the way pkg/messaging/nats's Conn.Publish/
// Subscribe address a Topic, but talking to *nats.Conn directly instead
// of going through that package's Client/ConnManager registry - this
// bridge only ever needs one long-lived connection per process, not a
// pooled registry of them.
type NatsBridge struct {
	conn    *nats.Conn
	manager *Manager
	codec   *packet.Codec
	subject func(serviceName string) string
}

// NewNatsBridge connects to a NATS cluster and wires incoming messages
// back into mgr.PostMessage.
func NewNatsBridge(mgr *Manager, url string, codec *packet.Codec) (*NatsBridge, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NatsBridge{
		conn:    conn,
		manager: mgr,
		codec:   codec,
		subject: func(name string) string { return "fabric.service." + name },
	}, nil
}

// Serve subscribes to the local services' inboxes so packets published
// by remote processes reach this process's Manager.
func (b *NatsBridge) Serve(serviceNames ...string) error {
	for _, name := range serviceNames {
		name := name
		_, err := b.conn.Subscribe(b.subject(name), func(msg *nats.Msg) {
			p, sessionId, err := decodeRemoteEnvelope(b.codec, msg.Data)
			if err != nil {
				return
			}
			p.SessionId = sessionId
			b.manager.PostMessage(name, mq.Envelope{Tag: "packet", Payload: p})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Publish sends p to the named service running in a remote process.
func (b *NatsBridge) Publish(serviceName string, sessionId uint64, p *packet.Packet) error {
	payload, err := encodeRemoteEnvelope(b.codec, sessionId, p)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject(serviceName), payload)
}

// Close closes the underlying NATS connection.
func (b *NatsBridge) Close() {
	b.conn.Close()
}

// encodeRemoteEnvelope prefixes the wire-encoded Packet with the
// originating sessionId so the remote Manager knows which local
// session a reply, if any, belongs to.
func encodeRemoteEnvelope(codec *packet.Codec, sessionId uint64, p *packet.Packet) ([]byte, error) {
	wire, err := codec.Encode(p)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(wire))
	binary.BigEndian.PutUint64(out[:8], sessionId)
	copy(out[8:], wire)
	return out, nil
}

func decodeRemoteEnvelope(codec *packet.Codec, data []byte) (*packet.Packet, uint64, error) {
	if len(data) < 8 {
		return nil, 0, errors.New("manager: short remote envelope")
	}
	sessionId := binary.BigEndian.Uint64(data[:8])
	p, _, _, err := codec.Decode(data[8:])
	if err != nil {
		return nil, 0, err
	}
	return p, sessionId, nil
}
