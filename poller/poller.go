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

// Package poller bridges blocking net.Conn I/O onto the cooperative,
// single-threaded service loop. A TCPPoller accepts
// connections the way pkg/app/net/server.go's Server.run does - one
// goroutine per accepted connection - but instead of handing the
// connection to a blocking ConnHandler, each goroutine only reads bytes
// and funnels them as Events onto a channel; Poll drains that channel
// with a deadline so the owning service's tick never blocks longer than
// its remaining frame budget.
package poller

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	fabric "github.com/oysterpack/fabric"
	"github.com/prometheus/client_golang/prometheus"
)

// EventKind identifies what happened to a session-worthy connection.
type EventKind int

const (
	Accepted EventKind = iota
	Connected
	Readable
	Writable
	Closed
)

// Event is delivered by Poll. SessionId is allocated at Accept/Connect
// time and is stable for the life of the connection.
type Event struct {
	Kind      EventKind
	SessionId uint64
	PeerAddr  string
	Data      []byte
	Err       error
}

// Poller is the abstraction a Service drives each tick:
// Listen/Connect register intent, Poll returns the events that arrived
// since the last call (bounded by timeout), Send and Close act on a
// specific session.
type Poller interface {
	Listen(addr string) error
	Connect(addr string) (uint64, error)
	Poll(timeout time.Duration) []Event
	Send(sessionId uint64, data []byte) error
	Close(sessionId uint64) error
	Shutdown()
}

type conn struct {
	id     uint64
	nc     net.Conn
	closed bool
}

// TCPPoller is the default Poller, grounded on the accept-loop /
// connection-semaphore / prometheus-gauge shape of
// pkg/app/net/server.go's Server.
type TCPPoller struct {
	mu        sync.Mutex
	listeners []net.Listener
	conns     map[uint64]*conn
	connSeq   uint64

	events chan Event

	maxConns int
	sem      chan struct{}

	connGauge   prometheus.Gauge
	acceptTotal prometheus.Counter

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTCPPoller builds a Poller with an event buffer sized eventBuf and an
// optional connection ceiling (0 means unbounded), mirroring
// ServerSettings.maxConns.
func NewTCPPoller(eventBuf, maxConns int, connGauge prometheus.Gauge, acceptTotal prometheus.Counter) *TCPPoller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &TCPPoller{
		conns:       make(map[uint64]*conn),
		events:      make(chan Event, eventBuf),
		maxConns:    maxConns,
		connGauge:   connGauge,
		acceptTotal: acceptTotal,
		ctx:         ctx,
		cancel:      cancel,
	}
	if maxConns > 0 {
		p.sem = make(chan struct{}, maxConns)
	}
	return p
}

// Listen starts accepting connections on addr in a background goroutine,
// as Server.run does.
func (p *TCPPoller) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return &fabric.Error{Kind_: fabric.Internal, Message: "listen: " + err.Error()}
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()

	go p.acceptLoop(l)
	return nil
}

func (p *TCPPoller) acceptLoop(l net.Listener) {
	for {
		if p.sem != nil {
			select {
			case p.sem <- struct{}{}:
			case <-p.ctx.Done():
				return
			}
		}
		nc, err := l.Accept()
		if err != nil {
			if p.sem != nil {
				<-p.sem
			}
			select {
			case <-p.ctx.Done():
				return
			default:
			}
			return
		}
		id := p.register(nc)
		if p.acceptTotal != nil {
			p.acceptTotal.Inc()
		}
		p.emit(Event{Kind: Accepted, SessionId: id, PeerAddr: nc.RemoteAddr().String()})
		go p.readLoop(id, nc)
	}
}

// Connect dials addr synchronously and registers the resulting
// connection, returning its session id.
func (p *TCPPoller) Connect(addr string) (uint64, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return 0, &fabric.Error{Kind_: fabric.Internal, Message: "dial: " + err.Error()}
	}
	id := p.register(nc)
	p.emit(Event{Kind: Connected, SessionId: id, PeerAddr: nc.RemoteAddr().String()})
	go p.readLoop(id, nc)
	return id, nil
}

func (p *TCPPoller) register(nc net.Conn) uint64 {
	id := atomic.AddUint64(&p.connSeq, 1)
	p.mu.Lock()
	p.conns[id] = &conn{id: id, nc: nc}
	n := len(p.conns)
	p.mu.Unlock()
	if p.connGauge != nil {
		p.connGauge.Set(float64(n))
	}
	return id
}

func (p *TCPPoller) readLoop(id uint64, nc net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			p.emit(Event{Kind: Readable, SessionId: id, Data: data})
		}
		if err != nil {
			p.closeConn(id, err)
			return
		}
	}
}

func (p *TCPPoller) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// Poll drains whatever events are currently available, blocking up to
// timeout if none have arrived yet; it never blocks past the remaining
// tick budget the caller passes in.
func (p *TCPPoller) Poll(timeout time.Duration) []Event {
	var out []Event
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case ev := <-p.events:
		out = append(out, ev)
	case <-deadline.C:
		return out
	}
	for {
		select {
		case ev := <-p.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Send writes data to the session's connection. Returns NotFound if the
// session is unknown. On success it emits a Writable event for the
// session - with net.Conn's blocking Write, a completed write is the
// closest equivalent this Poller has to an edge-triggered EPOLLOUT
// readiness notification.
func (p *TCPPoller) Send(sessionId uint64, data []byte) error {
	p.mu.Lock()
	c, ok := p.conns[sessionId]
	p.mu.Unlock()
	if !ok {
		return &fabric.NotFoundError{Subject: "session", Key: sessionKey(sessionId)}
	}
	_, err := c.nc.Write(data)
	if err != nil {
		p.closeConn(sessionId, err)
		return &fabric.Error{Kind_: fabric.Internal, Message: "write: " + err.Error()}
	}
	p.emit(Event{Kind: Writable, SessionId: sessionId})
	return nil
}

// Close closes the session's connection.
func (p *TCPPoller) Close(sessionId uint64) error {
	return p.closeConn(sessionId, nil)
}

func (p *TCPPoller) closeConn(id uint64, cause error) error {
	p.mu.Lock()
	c, ok := p.conns[id]
	if ok {
		delete(p.conns, id)
	}
	n := len(p.conns)
	p.mu.Unlock()
	if !ok {
		return &fabric.NotFoundError{Subject: "session", Key: sessionKey(id)}
	}
	c.nc.Close()
	if p.connGauge != nil {
		p.connGauge.Set(float64(n))
	}
	if p.sem != nil {
		select {
		case <-p.sem:
		default:
		}
	}
	p.emit(Event{Kind: Closed, SessionId: id, Err: cause})
	return nil
}

// Shutdown stops accepting and closes every tracked connection.
func (p *TCPPoller) Shutdown() {
	p.cancel()
	p.mu.Lock()
	listeners := p.listeners
	conns := p.conns
	p.conns = make(map[uint64]*conn)
	p.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	for _, c := range conns {
		c.nc.Close()
	}
}

func sessionKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
