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

// Package timer implements a monotonic, millisecond-granularity timer
// wheel. All callbacks run on the owning service's loop thread; Tick is
// only ever called from that goroutine.
package timer

import (
	"container/heap"
	"sync"

	"github.com/nats-io/nuid"
	"github.com/rs/zerolog/log"
)

// Id identifies a scheduled timer; it is returned by Schedule and accepted
// by Cancel.
type Id string

// Callback is invoked when a timer fires. Returning reschedule=false
// removes a periodic timer after this firing.
type Callback func(nowMs int64) (reschedule bool)

type entry struct {
	id        Id
	due       int64
	period    int64 // 0 for one-shot
	seq       uint64 // insertion order, for tie-break
	cb        Callback
	cancelled bool
	index     int // heap index
}

// entryHeap is a min-heap ordered by (due, seq) so Tick fires due
// callbacks in non-decreasing due-time order, tie-broken by insertion
// order
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a timer wheel. The zero value is not usable; use New.
type Wheel struct {
	mu      sync.Mutex
	heap    entryHeap
	byId    map[Id]*entry
	seq     uint64
	idGen   *nuid.NUID
}

// New creates an empty timer wheel.
func New() *Wheel {
	return &Wheel{
		byId:  make(map[Id]*entry),
		idGen: nuid.New(),
	}
}

// Schedule arms a callback to fire at nowMs+delayMs, and every periodMs
// thereafter if periodMs > 0. nowMs is supplied by the caller (typically
// the service loop's last-read monotonic clock) rather than read
// internally, so the wheel is testable without a real clock.
func (w *Wheel) Schedule(nowMs, delayMs, periodMs int64, cb Callback) Id {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := Id(w.idGen.Next())
	w.seq++
	e := &entry{
		id:     id,
		due:    nowMs + delayMs,
		period: periodMs,
		seq:    w.seq,
		cb:     cb,
	}
	w.byId[id] = e
	heap.Push(&w.heap, e)
	return id
}

// Cancel removes a timer by id. Cancelling a timer that is currently
// firing (from within its own callback) prevents any future firing -
// the cancel-during-fire invariant a periodic timer depends on.
func (w *Wheel) Cancel(id Id) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byId[id]
	if !ok {
		return false
	}
	e.cancelled = true
	delete(w.byId, id)
	if e.index >= 0 {
		heap.Remove(&w.heap, e.index)
	}
	return true
}

// Tick fires every timer due at or before nowMs, in non-decreasing due-time
// order (ties broken by insertion order), and returns how many fired.
// Each fired timer costs one heap pop (plus one push if it re-arms), so
// Tick is O(k log n) where k is the fired count, not O(k + log n).
// A callback that panics is recovered and logged; a periodic timer stays
// armed after such a panic.
func (w *Wheel) Tick(nowMs int64) int {
	fired := 0
	for {
		w.mu.Lock()
		if len(w.heap) == 0 || w.heap[0].due > nowMs {
			w.mu.Unlock()
			return fired
		}
		e := heap.Pop(&w.heap).(*entry)
		// e stays in byId (with index == -1, meaning "not in heap, maybe
		// firing") while its callback runs, so a callback that cancels
		// itself via w.Cancel(e.id) can still find and mark this exact
		// entry - otherwise cancel-during-fire could race a reschedule.
		w.mu.Unlock()

		if e.cancelled {
			w.mu.Lock()
			delete(w.byId, e.id)
			w.mu.Unlock()
			continue
		}
		fired++
		reschedule := func() (again bool) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("timer", string(e.id)).Msg("timer: callback panicked")
					again = true
				}
			}()
			return e.cb(nowMs)
		}()

		w.mu.Lock()
		if e.cancelled || !reschedule || e.period == 0 {
			delete(w.byId, e.id)
		} else {
			e.due = nowMs + e.period
			w.seq++
			e.seq = w.seq
			heap.Push(&w.heap, e)
		}
		w.mu.Unlock()
	}
}

// Len returns the number of armed (not yet fired or cancelled) timers.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heap)
}

// NextDue returns the due time of the earliest armed timer and true, or
// (0, false) if the wheel is empty - used by the service loop to compute
// the Poller wait timeout.
func (w *Wheel) NextDue() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.heap) == 0 {
		return 0, false
	}
	return w.heap[0].due, true
}
