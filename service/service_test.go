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

package service

import (
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver"
	"github.com/rs/zerolog"

	"github.com/oysterpack/fabric/component"
	"github.com/oysterpack/fabric/config"
	"github.com/oysterpack/fabric/packet"
	"github.com/oysterpack/fabric/poller"
)

// fakePoller is an in-memory poller.Poller for exercising the service
// loop without a real socket, the way pkg/actor's tests drive a
// MessageProcessor with synthetic channels instead of real network I/O.
type fakePoller struct {
	mu     sync.Mutex
	events []poller.Event
	sent   map[uint64][][]byte
	closed map[uint64]bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{sent: make(map[uint64][][]byte), closed: make(map[uint64]bool)}
}

func (f *fakePoller) Listen(addr string) error        { return nil }
func (f *fakePoller) Connect(addr string) (uint64, error) { return 0, nil }

func (f *fakePoller) Poll(timeout time.Duration) []poller.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}

func (f *fakePoller) Send(sessionId uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[sessionId] = append(f.sent[sessionId], data)
	return nil
}

func (f *fakePoller) Close(sessionId uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[sessionId] = true
	return nil
}

func (f *fakePoller) Shutdown() {}

func (f *fakePoller) deliver(ev poller.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func newTestService(t *testing.T) (*Service, *fakePoller) {
	t.Helper()
	fp := newFakePoller()
	svc, err := NewService(config.ServiceConfig{Name: "test", Fps: 200}, fp, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, fp
}

func TestServiceLifecycleStartStop(t *testing.T) {
	svc, _ := newTestService(t)
	if svc.State() != New {
		t.Fatalf("expected New, got %v", svc.State())
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if svc.State() != Running {
		t.Fatalf("expected Running, got %v", svc.State())
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.State() != Terminated {
		t.Fatalf("expected Terminated, got %v", svc.State())
	}
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	svc, fp := newTestService(t)
	var gotOpcode uint32
	err := svc.RegisterHandler(1, func(ctx *component.Context, p *packet.Packet) (*packet.Packet, DispatchResult, error) {
		gotOpcode = p.Opcode
		return p.Reply(0, []byte("ack")), Handled, nil
	})
	if err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	fp.deliver(poller.Event{Kind: poller.Accepted, SessionId: 7, PeerAddr: "peer"})
	codec := packet.NewCodec(0)
	wire, _ := codec.Encode(&packet.Packet{Opcode: 1, Serial: 5, Flags: packet.ExpectReply})
	fp.deliver(poller.Event{Kind: poller.Readable, SessionId: 7, Data: wire})

	deadline := time.Now().Add(2 * time.Second)
	for gotOpcode == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if gotOpcode != 1 {
		t.Fatalf("expected handler invoked with opcode 1, got %d", gotOpcode)
	}

	fp.mu.Lock()
	sentToSeven := fp.sent[7]
	fp.mu.Unlock()
	if len(sentToSeven) == 0 {
		t.Fatal("expected a reply to have been sent to session 7")
	}
}

func TestUnhandledOpcodeWithExpectReplyGetsNotFoundStatus(t *testing.T) {
	svc, fp := newTestService(t)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	fp.deliver(poller.Event{Kind: poller.Accepted, SessionId: 3})
	codec := packet.NewCodec(0)
	wire, _ := codec.Encode(&packet.Packet{Opcode: 99, Flags: packet.ExpectReply})
	fp.deliver(poller.Event{Kind: poller.Readable, SessionId: 3, Data: wire})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fp.mu.Lock()
		n := len(fp.sent[3])
		fp.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected an auto-reply for an unhandled opcode with ExpectReply set")
}

func TestHandlerPanicConvertsToInternalError(t *testing.T) {
	svc, fp := newTestService(t)
	svc.RegisterHandler(2, func(ctx *component.Context, p *packet.Packet) (*packet.Packet, DispatchResult, error) {
		panic("boom")
	})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	fp.deliver(poller.Event{Kind: poller.Accepted, SessionId: 1})
	codec := packet.NewCodec(0)
	wire, _ := codec.Encode(&packet.Packet{Opcode: 2, Flags: packet.ExpectReply})
	fp.deliver(poller.Event{Kind: poller.Readable, SessionId: 1, Data: wire})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fp.mu.Lock()
		n := len(fp.sent[1])
		fp.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a reply even though the handler panicked")
}

func TestRegisterComponentRejectedAfterStart(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()
	if err := svc.RegisterComponent(&noopComponent{name: "late"}); err == nil {
		t.Fatal("expected StateError registering a component after Start")
	}
}

type noopComponent struct {
	component.Base
	name string
}

func (c *noopComponent) Name() string { return c.name }
func (c *noopComponent) Version() *semver.Version {
	v, _ := semver.NewVersion("1.0.0")
	return v
}
