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

// Package mq implements an MPSC envelope queue: many producers push
// opaque envelopes; a single consumer (the owning service) drains them
// in FIFO order per producer. The fan-in
// shape mirrors pkg/actor/message_processor.go's MessageProcessorEngine,
// which funnels N per-channel producer goroutines into one consumer
// channel read by the actor's single-threaded loop.
package mq

import "sync"

// Envelope is an opaque message carrying ownership from a producer
// goroutine (or another service) into the owning service's loop.
type Envelope struct {
	Tag     string
	Payload interface{}
}

// Queue is a many-producer single-consumer envelope queue.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	notify chan struct{}
	closed bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push enqueues env. Push never blocks and never fails except after
// Close.
func (q *Queue) Push(env Envelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errClosed
	}
	q.items = append(q.items, env)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// DrainUpTo drains at most n envelopes into out (which is truncated first)
// and returns how many were drained. Non-blocking. Bounding n per call lets
// the service loop preserve its frame budget.
func (q *Queue) DrainUpTo(n int, out *[]Envelope) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.items) == 0 {
		*out = (*out)[:0]
		return 0
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	*out = append((*out)[:0], q.items[:n]...)
	q.items = q.items[n:]
	return n
}

// Len reports the number of envelopes currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// BlockingDrain is called only by the consumer. It blocks until an
// envelope is pushed, the queue is closed, or timeout is closed or
// receives, then drains everything currently queued (no cap - callers
// that need a cap should follow up with DrainUpTo). A nil timeout channel
// waits indefinitely until Push or Close.
func (q *Queue) BlockingDrain(timeout <-chan struct{}) []Envelope {
	q.mu.Lock()
	if len(q.items) > 0 || q.closed {
		items := q.items
		q.items = nil
		q.mu.Unlock()
		return items
	}
	q.mu.Unlock()

	select {
	case <-q.notify:
	case <-timeout:
	}

	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// Close marks the queue closed; subsequent Push calls fail and any blocked
// BlockingDrain wakes immediately.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "mq: queue is closed" }
