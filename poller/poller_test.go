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

package poller

import (
	"net"
	"testing"
	"time"
)

func waitForKind(t *testing.T, p *TCPPoller, kind EventKind) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range p.Poll(100 * time.Millisecond) {
			if ev.Kind == kind {
				return ev
			}
		}
	}
	t.Fatalf("timed out waiting for event kind %v", kind)
	return Event{}
}

func TestAcceptAndReadDeliverEvents(t *testing.T) {
	p := NewTCPPoller(64, 0, nil, nil)
	defer p.Shutdown()

	if err := p.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	p.mu.Lock()
	addr := p.listeners[0].Addr().String()
	p.mu.Unlock()

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	accepted := waitForKind(t, p, Accepted)

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	readable := waitForKind(t, p, Readable)
	if readable.SessionId != accepted.SessionId {
		t.Fatalf("expected Readable for accepted session %d, got %d", accepted.SessionId, readable.SessionId)
	}
	if string(readable.Data) != "ping" {
		t.Fatalf("expected payload %q, got %q", "ping", readable.Data)
	}
}

func TestSendWritesToPeer(t *testing.T) {
	p := NewTCPPoller(64, 0, nil, nil)
	defer p.Shutdown()

	if err := p.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	p.mu.Lock()
	addr := p.listeners[0].Addr().String()
	p.mu.Unlock()

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	accepted := waitForKind(t, p, Accepted)
	if err := p.Send(accepted.SessionId, []byte("pong")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf) != "pong" {
		t.Fatalf("expected %q, got %q", "pong", buf)
	}
}

func TestCloseUnknownSessionReturnsNotFound(t *testing.T) {
	p := NewTCPPoller(8, 0, nil, nil)
	defer p.Shutdown()
	if err := p.Close(999); err == nil {
		t.Fatal("expected NotFound error for unknown session")
	}
}
