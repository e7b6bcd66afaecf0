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

// Package service implements the cooperative, single-threaded service
// event loop: each Service owns a Component registry, a
// timer Wheel, an MPSC mq.Queue, a set of sessions multiplexed through a
// Poller, and a Packet dispatch table, and runs them all from one
// goroutine driven by a gopkg.in/tomb.v2 Tomb, the way
// pkg/actor/actor.go's Actor and pkg/service/service.go's service run
// their own lifecycle goroutine.
package service

import (
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	fabric "github.com/oysterpack/fabric"
	"github.com/oysterpack/fabric/component"
	"github.com/oysterpack/fabric/config"
	"github.com/oysterpack/fabric/metrics"
	"github.com/oysterpack/fabric/mq"
	"github.com/oysterpack/fabric/object"
	"github.com/oysterpack/fabric/packet"
	"github.com/oysterpack/fabric/poller"
	"github.com/oysterpack/fabric/session"
	"github.com/oysterpack/fabric/timer"
)

// Id is a process-unique service id, allocated via nuid the way
// pkg/actor/actor.go's Actor.init stamps every actor with
// nuid.New().Next().
type Id string

// DispatchResult tells the loop what to do after a handler runs.
type DispatchResult int

const (
	// Handled means the handler dealt with the packet; no default
	// behavior follows.
	Handled DispatchResult = iota
	// Unhandled means no handler was registered for the opcode; the
	// loop auto-replies with a NotFound status if ExpectReply is set.
	Unhandled
	// CloseSession means the handler wants the originating session
	// closed after any reply is flushed.
	CloseSession
)

// Handler processes one decoded Packet. ctx exposes the component
// registry and the current tick's nowMs. A non-nil reply is queued for
// send through the originating session.
type Handler func(ctx *component.Context, p *packet.Packet) (reply *packet.Packet, result DispatchResult, err error)

// FilterResult tells dispatch whether to continue to the next stage of
// the filter chain (or, for a pre-filter, into the handler) or to stop.
type FilterResult int

const (
	// Continue means the chain proceeds normally.
	Continue FilterResult = iota
	// ShortCircuit means a pre-filter is skipping the handler entirely;
	// the post-filter chain still runs. Returned by a post-filter, it has
	// no effect - post-filters always run to completion.
	ShortCircuit
)

// Filter inspects or rewrites a Packet before (pre-filter) or after
// (post-filter) handler dispatch, letting cross-cutting behavior - auth
// checks, rate limiting, audit logging - hook into dispatch without
// touching the handler table itself.
type Filter func(ctx *component.Context, p *packet.Packet) (FilterResult, error)

// Service is the per-service runtime.
type Service struct {
	id     Id
	config config.ServiceConfig

	components *component.Registry
	timers     *timer.Wheel
	mailbox    *mq.Queue
	pool       *object.Pool
	poller     poller.Poller
	codec      *packet.Codec

	handlers   map[uint32]Handler
	handlersMu sync.RWMutex

	preFilters  []Filter
	postFilters []Filter
	filtersMu   sync.RWMutex

	sessions   map[uint64]*session.Session
	sessionsMu sync.RWMutex

	state   serviceState
	logger  zerolog.Logger
	metrics *metrics.ServiceMetrics

	tomb.Tomb
}

// NewService constructs a Service in the New state. The Poller is injected so
// tests can substitute a fake; callers wanting real TCP pass a
// *poller.TCPPoller.
func NewService(cfg config.ServiceConfig, p poller.Poller, reg prometheus.Registerer, logger zerolog.Logger) (*Service, error) {
	normalized, err := config.Normalize(cfg)
	if err != nil {
		return nil, err
	}

	codec := packet.NewCodec(0)
	for _, layer := range normalized.CodecChain {
		switch layer {
		case "zlib":
			codec = packet.NewCodec(0, packet.ZlibLayer{})
		}
	}

	svc := &Service{
		id:         Id(nuid.Next()),
		config:     normalized,
		components: component.NewRegistry(),
		timers:     timer.New(),
		mailbox:    mq.New(),
		pool:       object.NewPool(),
		poller:     p,
		codec:      codec,
		handlers:   make(map[uint32]Handler),
		sessions:   make(map[uint64]*session.Session),
		logger:     logger.With().Str("service", normalized.Name).Logger(),
		metrics:    metrics.NewServiceMetrics(reg, normalized.Name),
	}
	return svc, nil
}

func (s *Service) Id() Id                        { return s.id }
func (s *Service) Name() string                  { return s.config.Name }
func (s *Service) State() State                  { return s.state.get() }
func (s *Service) FailureCause() error            { return s.state.failure() }
func (s *Service) Components() *component.Registry { return s.components }
func (s *Service) Timers() *timer.Wheel            { return s.timers }
func (s *Service) Mailbox() *mq.Queue              { return s.mailbox }
func (s *Service) Logger() zerolog.Logger          { return s.logger }

// RegisterComponent adds a Component to the service, usable only before
// Start.
func (s *Service) RegisterComponent(c component.Component) error {
	if s.State() != New {
		return &fabric.StateError{Op: "RegisterComponent", Current: s.State()}
	}
	return s.components.Register(c)
}

// RegisterHandler maps an opcode to a Handler, usable only before Start.
func (s *Service) RegisterHandler(opcode uint32, h Handler) error {
	if s.State() != New {
		return &fabric.StateError{Op: "RegisterHandler", Current: s.State()}
	}
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if _, exists := s.handlers[opcode]; exists {
		return &fabric.RepeatError{Subject: "handler", Key: opcodeKey(opcode)}
	}
	s.handlers[opcode] = h
	return nil
}

// RegisterPreFilter appends f to the pre-filter chain run before handler
// dispatch, usable only before Start. Filters run in registration order;
// one returning ShortCircuit skips the handler but the post-filter chain
// still runs.
func (s *Service) RegisterPreFilter(f Filter) error {
	if s.State() != New {
		return &fabric.StateError{Op: "RegisterPreFilter", Current: s.State()}
	}
	s.filtersMu.Lock()
	defer s.filtersMu.Unlock()
	s.preFilters = append(s.preFilters, f)
	return nil
}

// RegisterPostFilter appends f to the post-filter chain run after handler
// dispatch (or after a pre-filter short-circuit), usable only before
// Start. Post-filters always run to completion regardless of what they
// return.
func (s *Service) RegisterPostFilter(f Filter) error {
	if s.State() != New {
		return &fabric.StateError{Op: "RegisterPostFilter", Current: s.State()}
	}
	s.filtersMu.Lock()
	defer s.filtersMu.Unlock()
	s.postFilters = append(s.postFilters, f)
	return nil
}

// PostMessage enqueues env onto the service's mailbox from any goroutine.
func (s *Service) PostMessage(env mq.Envelope) error {
	return s.mailbox.Push(env)
}

// CloseSession requests that the given session be closed, the actual
// BeginClose/finishCloseIfReady call happening on the loop goroutine via
// the "close-session" envelope tag so it is safe to call from any
// goroutine.
func (s *Service) CloseSession(sessionId uint64) error {
	return s.mailbox.Push(mq.Envelope{Tag: "close-session", Payload: sessionId})
}

// Start begins the service's own goroutine, which runs until Stop is
// called or the loop fails, mirroring pkg/service/service.go's
// StartAsync/run split.
func (s *Service) Start() error {
	if s.State() != New {
		return &fabric.StateError{Op: "Start", Current: s.State()}
	}
	s.state.set(Starting)

	ctx := &component.Context{Registry: s.components, Timers: s.timers}
	if err := s.components.InitAll(ctx); err != nil {
		s.state.fail(err)
		return err
	}
	if err := s.components.StartAll(ctx); err != nil {
		s.state.fail(err)
		return err
	}
	if s.config.ListenAddr != "" {
		if err := s.poller.Listen(s.config.ListenAddr); err != nil {
			s.state.fail(err)
			return err
		}
	}
	for _, addr := range s.config.ConnectPeers {
		if _, err := s.poller.Connect(addr); err != nil {
			s.logger.Warn().Err(err).Str("addr", addr).Msg("failed to connect to peer")
		}
	}

	s.state.set(Running)
	s.Go(s.loop)
	return nil
}

// Stop triggers shutdown and waits for the loop goroutine to exit,
// mirroring pkg/service/service.go's Stop = StopAsync + AwaitUntilStopped.
func (s *Service) Stop() error {
	if s.State().Stopped() {
		return nil
	}
	s.state.set(Stopping)
	s.Kill(nil)
	err := s.Wait()

	ctx := &component.Context{Registry: s.components, Timers: s.timers}
	s.components.StopAll(ctx)
	s.components.DestroyAll(ctx)
	s.poller.Shutdown()
	s.mailbox.Close()

	if err != nil {
		s.state.fail(err)
		return err
	}
	s.state.set(Terminated)
	return nil
}

func opcodeKey(opcode uint32) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 10)
	b[0], b[1] = '0', 'x'
	for i := 0; i < 8; i++ {
		b[9-i] = hex[(opcode>>(uint(i)*4))&0xf]
	}
	return string(b)
}

// tickInterval returns the fixed per-tick budget derived from Fps.
func (s *Service) tickInterval() time.Duration {
	return time.Second / time.Duration(s.config.Fps)
}
