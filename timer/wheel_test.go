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

package timer

import "testing"

func TestFiresInDueOrderWithTieBreak(t *testing.T) {
	w := New()
	var order []int
	w.Schedule(0, 10, 0, func(int64) bool { order = append(order, 1); return false })
	w.Schedule(0, 5, 0, func(int64) bool { order = append(order, 2); return false })
	w.Schedule(0, 5, 0, func(int64) bool { order = append(order, 3); return false }) // same due, later insertion

	fired := w.Tick(10)
	if fired != 3 {
		t.Fatalf("expected 3 fired, got %d", fired)
	}
	want := []int{2, 3, 1}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestCancel(t *testing.T) {
	w := New()
	fired := false
	id := w.Schedule(0, 10, 0, func(int64) bool { fired = true; return false })
	if !w.Cancel(id) {
		t.Fatal("expected Cancel to succeed")
	}
	w.Tick(100)
	if fired {
		t.Fatal("cancelled timer fired")
	}
}

func TestPeriodicRearm(t *testing.T) {
	w := New()
	count := 0
	w.Schedule(0, 10, 10, func(int64) bool { count++; return true })
	w.Tick(10)
	w.Tick(20)
	w.Tick(30)
	if count != 3 {
		t.Fatalf("expected 3 firings, got %d", count)
	}
}

func TestCancelDuringFireStopsFutureFirings(t *testing.T) {
	w := New()
	count := 0
	var id Id
	id = w.Schedule(0, 10, 10, func(int64) bool {
		count++
		if count == 1 {
			w.Cancel(id)
		}
		return true
	})
	w.Tick(10)
	w.Tick(20)
	w.Tick(30)
	if count != 1 {
		t.Fatalf("expected exactly 1 firing before self-cancel took effect, got %d", count)
	}
}

func TestRescheduleFalseRemovesPeriodic(t *testing.T) {
	w := New()
	count := 0
	w.Schedule(0, 10, 10, func(int64) bool {
		count++
		return count < 2
	})
	w.Tick(10)
	w.Tick(20)
	w.Tick(30)
	if count != 2 {
		t.Fatalf("expected exactly 2 firings, got %d", count)
	}
}
