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
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/oysterpack/fabric/config"
	"github.com/oysterpack/fabric/mq"
	"github.com/oysterpack/fabric/poller"
)

// fakePoller mirrors service.fakePoller: an in-memory poller.Poller so
// Manager tests never touch a real socket.
type fakePoller struct {
	mu     sync.Mutex
	events []poller.Event
}

func (f *fakePoller) Listen(addr string) error                   { return nil }
func (f *fakePoller) Connect(addr string) (uint64, error)        { return 0, nil }
func (f *fakePoller) Poll(timeout time.Duration) []poller.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}
func (f *fakePoller) Send(sessionId uint64, data []byte) error { return nil }
func (f *fakePoller) Close(sessionId uint64) error              { return nil }
func (f *fakePoller) Shutdown()                                 {}

func newTestManager() *Manager {
	return New(func(cfg config.ServiceConfig) (poller.Poller, error) {
		return &fakePoller{}, nil
	}, nil, zerolog.Nop())
}

func TestCreateRegistersByIdAndName(t *testing.T) {
	mgr := newTestManager()
	svc, err := mgr.Create(config.ServiceConfig{Name: "alpha", Fps: 200}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer mgr.StopAll()

	byName, err := mgr.GetByName("alpha")
	if err != nil || byName != svc {
		t.Fatalf("GetByName mismatch: %v", err)
	}
	byId, err := mgr.GetById(svc.Id())
	if err != nil || byId != svc {
		t.Fatalf("GetById mismatch: %v", err)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	mgr := newTestManager()
	if _, err := mgr.Create(config.ServiceConfig{Name: "dup", Fps: 200}, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer mgr.StopAll()
	if _, err := mgr.Create(config.ServiceConfig{Name: "dup", Fps: 200}, nil); err == nil {
		t.Fatal("expected RepeatError creating a second service with the same name")
	}
}

func TestStopByNameUnregisters(t *testing.T) {
	mgr := newTestManager()
	svc, err := mgr.Create(config.ServiceConfig{Name: "beta", Fps: 200}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr.StopByName("beta"); err != nil {
		t.Fatalf("StopByName: %v", err)
	}
	if _, err := mgr.GetByName("beta"); err == nil {
		t.Fatal("expected GetByName to fail after StopByName")
	}
	if !svc.State().Stopped() {
		t.Fatalf("expected stopped state, got %v", svc.State())
	}
}

func TestStopAllStopsEveryService(t *testing.T) {
	mgr := newTestManager()
	if _, err := mgr.Create(config.ServiceConfig{Name: "one", Fps: 200}, nil); err != nil {
		t.Fatalf("Create one: %v", err)
	}
	if _, err := mgr.Create(config.ServiceConfig{Name: "two", Fps: 200}, nil); err != nil {
		t.Fatalf("Create two: %v", err)
	}
	if err := mgr.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if len(mgr.Services()) != 0 {
		t.Fatalf("expected no services left, got %d", len(mgr.Services()))
	}
}

func TestPostMessageReachesTargetMailbox(t *testing.T) {
	mgr := newTestManager()
	svc, err := mgr.Create(config.ServiceConfig{Name: "gamma", Fps: 200}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer mgr.StopAll()

	if err := mgr.PostMessage("gamma", mq.Envelope{Tag: "ping"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	var got []mq.Envelope
	svc.Mailbox().DrainUpTo(1, &got)
	if len(got) != 1 || got[0].Tag != "ping" {
		t.Fatalf("expected ping envelope drained, got %#v", got)
	}
}

func TestPostMessageUnknownServiceIsNotFound(t *testing.T) {
	mgr := newTestManager()
	if err := mgr.PostMessage("nope", mq.Envelope{Tag: "ping"}); err == nil {
		t.Fatal("expected NotFoundError posting to an unregistered service")
	}
}
