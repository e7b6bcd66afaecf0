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

package mq

import (
	"sync"
	"testing"
)

func TestPushDrainFIFOPerProducer(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Push(Envelope{Tag: "p1", Payload: i})
	}
	var out []Envelope
	n := q.DrainUpTo(3, &out)
	if n != 3 || len(out) != 3 {
		t.Fatalf("expected 3 drained, got %d", n)
	}
	for i, e := range out {
		if e.Payload.(int) != i {
			t.Fatalf("expected FIFO order, got %v at %d", e.Payload, i)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 remaining, got %d", q.Len())
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	q := New()
	const producers = 8
	const perProducer = 100
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(Envelope{Tag: "ping", Payload: i})
			}
		}(p)
	}
	wg.Wait()

	total := 0
	var out []Envelope
	for {
		n := q.DrainUpTo(16, &out)
		total += n
		if n == 0 {
			break
		}
	}
	if total != producers*perProducer {
		t.Fatalf("expected %d total envelopes, got %d", producers*perProducer, total)
	}
}

func TestCloseWakesBlockingDrain(t *testing.T) {
	q := New()
	done := make(chan struct{})
	go func() {
		q.BlockingDrain(make(chan struct{}))
		close(done)
	}()
	q.Close()
	<-done

	if err := q.Push(Envelope{}); err == nil {
		t.Fatal("expected Push to fail after Close")
	}
}
