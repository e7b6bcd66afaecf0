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
	"time"

	"github.com/oysterpack/fabric/component"
	"github.com/oysterpack/fabric/mq"
	"github.com/oysterpack/fabric/object"
	pollerpkg "github.com/oysterpack/fabric/poller"
	"github.com/oysterpack/fabric/session"
)

// loop is the service's own goroutine: bind the
// auto-release pool to this goroutine, then tick at the configured fps
// until the tomb is killed.
func (s *Service) loop() error {
	object.Bind(s.pool)
	defer object.Unbind()

	interval := s.tickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Dying():
			return nil
		case <-ticker.C:
			start := time.Now()
			s.tick(nowMs())
			elapsed := time.Since(start)
			if s.metrics != nil {
				s.metrics.TickDuration.Observe(elapsed.Seconds())
				if elapsed > interval {
					s.metrics.FrameOverruns.Inc()
				}
			}
		}
	}
}

// tick runs exactly one service-loop iteration:
//  1. drain the mailbox up to FrameDrainCap
//  2. poll the network for events, bounded by the remaining frame budget
//     or the next timer's due time, whichever is sooner
//  3. route poller events through session framing into packet dispatch
//  4. fire due timers
//  5. run every component's OnUpdate
//  6. drain the auto-release pool's top frame
func (s *Service) tick(now int64) {
	frameDeadline := time.Now().Add(s.tickInterval())

	var envelopes []mq.Envelope
	s.mailbox.DrainUpTo(s.config.FrameDrainCap, &envelopes)
	for _, env := range envelopes {
		s.handleEnvelope(env)
	}

	s.pollNetwork(now, frameDeadline)

	s.timers.Tick(now)

	ctx := &component.Context{NowMs: now, Registry: s.components, Timers: s.timers}
	if err := s.components.UpdateAll(ctx); err != nil {
		s.logger.Error().Err(err).Msg("component OnUpdate failed")
	}

	s.pool.DrainTopFrame()

	if s.metrics != nil {
		s.metrics.SessionCount.Set(float64(s.sessionCount()))
	}
}

// pollTimeout computes how long Poll may block this tick: the remaining
// frame budget, capped by the next timer's due time.
func (s *Service) pollTimeout(now int64, frameDeadline time.Time) time.Duration {
	budget := time.Until(frameDeadline)
	if budget < 0 {
		budget = 0
	}
	if due, ok := s.timers.NextDue(); ok {
		untilDue := time.Duration(due-now) * time.Millisecond
		if untilDue < budget {
			budget = untilDue
		}
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

func (s *Service) pollNetwork(now int64, frameDeadline time.Time) {
	timeout := s.pollTimeout(now, frameDeadline)
	for _, ev := range s.poller.Poll(timeout) {
		s.handlePollerEvent(ev)
	}
}

func (s *Service) handlePollerEvent(ev pollerpkg.Event) {
	switch ev.Kind {
	case pollerpkg.Accepted, pollerpkg.Connected:
		sess := session.New(ev.SessionId, string(s.id), ev.PeerAddr, s.codec, s.config.MaxSessionSendBuf)
		sess.MarkConnected()
		s.sessionsMu.Lock()
		s.sessions[ev.SessionId] = sess
		s.sessionsMu.Unlock()
	case pollerpkg.Readable:
		s.sessionsMu.RLock()
		sess := s.sessions[ev.SessionId]
		s.sessionsMu.RUnlock()
		if sess == nil {
			return
		}
		packets, err := sess.Feed(ev.Data)
		for _, p := range packets {
			s.dispatch(sess, p)
		}
		if err != nil {
			// The unparseable bytes that caused this are exactly what
			// sit in recvBuf, so BeginClose+MaybeFinishClose would wait
			// on a drain that can never happen; force straight to
			// Closed instead.
			sess.ForceClose(session.ProtocolErrorReason)
			s.finishCloseIfReady(sess)
		}
	case pollerpkg.Writable:
		s.sessionsMu.RLock()
		sess := s.sessions[ev.SessionId]
		s.sessionsMu.RUnlock()
		if sess != nil {
			sess.MarkWritable()
		}
	case pollerpkg.Closed:
		s.sessionsMu.Lock()
		sess := s.sessions[ev.SessionId]
		delete(s.sessions, ev.SessionId)
		s.sessionsMu.Unlock()
		if sess != nil {
			sess.BeginClose(session.ClosedByPeer)
		}
	}
}

func (s *Service) finishCloseIfReady(sess *session.Session) {
	if sess.MaybeFinishClose() {
		s.poller.Close(sess.Id())
		s.sessionsMu.Lock()
		delete(s.sessions, sess.Id())
		s.sessionsMu.Unlock()
	}
}

func (s *Service) sessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func nowMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
