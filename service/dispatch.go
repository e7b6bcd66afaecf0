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
	fabric "github.com/oysterpack/fabric"
	"github.com/oysterpack/fabric/component"
	"github.com/oysterpack/fabric/mq"
	"github.com/oysterpack/fabric/packet"
	"github.com/oysterpack/fabric/session"
)

// dispatch routes a decoded Packet through the pre-filter chain, the
// registered Handler (unless a pre-filter short-circuited), and the
// post-filter chain, converting handler/filter panics to an Internal
// error the way pkg/service/service.go's trapPanics wraps
// Init/Run/Destroy.
func (s *Service) dispatch(sess *session.Session, p *packet.Packet) {
	ctx := &component.Context{NowMs: nowMs(), Registry: s.components, Timers: s.timers}

	s.filtersMu.RLock()
	pre := s.preFilters
	post := s.postFilters
	s.filtersMu.RUnlock()

	skip := s.runFilters(pre, ctx, p)

	if !skip {
		reply, result, err := s.invoke(ctx, p)
		if result != Unhandled && s.metrics != nil {
			s.metrics.Dispatched.Inc()
		}

		switch {
		case err != nil:
			if p.Flags.Has(packet.ExpectReply) {
				s.send(sess, p.Reply(int32(fabric.Internal), []byte(err.Error())))
			}
			s.logger.Error().Err(err).Uint32("opcode", p.Opcode).Msg("handler error")
		case result == Unhandled:
			if p.Flags.Has(packet.ExpectReply) {
				s.send(sess, p.Reply(int32(fabric.NotFound), nil))
			}
		case reply != nil:
			s.send(sess, reply)
		}

		if result == CloseSession {
			sess.BeginClose(session.ClosedByService)
			s.finishCloseIfReady(sess)
		}
	}

	s.runFilters(post, ctx, p)
}

// invoke looks up the Handler registered for p.Opcode and runs it,
// recovering any panic into a *fabric.PanicError the way
// pkg/service/service.go's trapPanics does for Init/Run/Destroy. A
// missing handler is reported as Unhandled rather than an error.
func (s *Service) invoke(ctx *component.Context, p *packet.Packet) (reply *packet.Packet, result DispatchResult, err error) {
	s.handlersMu.RLock()
	h, ok := s.handlers[p.Opcode]
	s.handlersMu.RUnlock()
	if !ok {
		return nil, Unhandled, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &fabric.PanicError{Panic: r, Message: "service.dispatch"}
			result = Handled
		}
	}()
	return h(ctx, p)
}

// runFilters runs filters in order, recovering panics the same way invoke
// does. It returns true if a filter in the chain returned ShortCircuit -
// callers pass this chain's result for pre-filters only; post-filters
// always run regardless of what their own return value is, so dispatch
// ignores this function's return value for the post-filter call.
func (s *Service) runFilters(filters []Filter, ctx *component.Context, p *packet.Packet) bool {
	for _, f := range filters {
		result, err := s.invokeFilter(f, ctx, p)
		if err != nil {
			s.logger.Error().Err(err).Uint32("opcode", p.Opcode).Msg("filter error")
			continue
		}
		if result == ShortCircuit {
			return true
		}
	}
	return false
}

func (s *Service) invokeFilter(f Filter, ctx *component.Context, p *packet.Packet) (result FilterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &fabric.PanicError{Panic: r, Message: "service.filter"}
		}
	}()
	return f(ctx, p)
}

func (s *Service) send(sess *session.Session, p *packet.Packet) {
	wire, err := sess.QueueSend(p)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("session", sess.Id()).Msg("queue send failed")
		if k, ok := err.(fabric.Kinder); ok && k.Kind() == fabric.WouldBlock {
			if wasBlocked := sess.MarkBlocked(); !wasBlocked {
				ctx := &component.Context{NowMs: nowMs(), Registry: s.components, Timers: s.timers}
				if notifyErr := s.components.NotifyBackPressure(ctx, sess.Id()); notifyErr != nil {
					s.logger.Error().Err(notifyErr).Uint64("session", sess.Id()).Msg("component back-pressure handler failed")
				}
			}
		}
		return
	}
	if sendErr := s.poller.Send(sess.Id(), wire); sendErr != nil {
		s.logger.Warn().Err(sendErr).Uint64("session", sess.Id()).Msg("poller send failed")
		return
	}
	sess.DrainSent(len(wire))
}

// handleEnvelope processes one mailbox envelope drained this tick.
// Envelopes tagged "packet" carry a pre-routed Packet destined for a
// local session (used by manager.PostMessage cross-service delivery);
// "close-session" requests a session close from outside the loop
// goroutine. Any other tag is dropped - this loop only understands these
// two tags natively.
func (s *Service) handleEnvelope(env mq.Envelope) {
	switch env.Tag {
	case "packet":
		p, ok := env.Payload.(*packet.Packet)
		if !ok {
			return
		}
		s.sessionsMu.RLock()
		sess := s.sessions[p.SessionId]
		s.sessionsMu.RUnlock()
		if sess == nil {
			return
		}
		s.dispatch(sess, p)
	case "close-session":
		sessionId, ok := env.Payload.(uint64)
		if !ok {
			return
		}
		s.sessionsMu.RLock()
		sess := s.sessions[sessionId]
		s.sessionsMu.RUnlock()
		if sess == nil {
			return
		}
		sess.BeginClose(session.ClosedByService)
		s.finishCloseIfReady(sess)
	}
}
