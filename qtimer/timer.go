// Package qtimer implements the timer-pile abstraction the connection core
// consumes: init_new/unset/set (spec.md §6 "Timer interface consumed"). A
// Pile batches its timers in a single deadline-ordered heap that the engine
// polls, so an I/O engine driving many connections does not pay one OS
// timer per hold/keepalive timer.
package qtimer

import (
	"container/heap"
	"time"
)

// Callback is invoked by Pile.Poll when a Timer expires. ctx is the opaque
// value passed to Timer.InitNew (normally the owning *conn.Connection).
type Callback func(t *Timer, ctx any)

// Timer is a single-shot alarm belonging to a Pile. The zero Timer is unset
// and not associated with any pile; it must be initialised with InitNew
// before Set or Unset are meaningful. Mirrors spec.md's `hold_timer` /
// `keepalive_timer` qtimer fields.
type Timer struct {
	pile    *Pile
	cb      Callback
	ctx     any
	deadline time.Time
	armed   bool
	index   int // heap index, maintained by container/heap
}

// InitNew associates t with pile and installs cb/ctx for future expiries.
// It does not arm the timer. Mirrors init_new(timer, pile, callback, ctx).
func (t *Timer) InitNew(pile *Pile, cb Callback, ctx any) {
	*t = Timer{pile: pile, cb: cb, ctx: ctx, index: -1}
}

// Armed reports whether the timer currently has a pending deadline.
func (t *Timer) Armed() bool {
	return t.armed
}

// Set (re)arms t to fire after interval, replacing any previously scheduled
// deadline. interval<=0 is treated as "fire on the next Poll". Mirrors
// set(timer, interval).
func (t *Timer) Set(interval time.Duration) {
	if t.pile == nil {
		return
	}
	t.pile.set(t, interval)
}

// Unset disarms t. A no-op if it was not armed. Mirrors unset(timer).
func (t *Timer) Unset() {
	if t.pile == nil || !t.armed {
		return
	}
	t.pile.unset(t)
}

// timerHeap is a min-heap of *Timer ordered by deadline.
type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Pile is the engine-owned heap of armed timers, analogous to Quagga's
// "timer pile": a single priority queue the event loop inspects once per
// iteration instead of maintaining one OS timer per connection.
type Pile struct {
	h timerHeap
}

// NewPile returns an empty timer pile.
func NewPile() *Pile {
	return &Pile{h: make(timerHeap, 0, 16)}
}

func (p *Pile) set(t *Timer, interval time.Duration) {
	if t.armed {
		heap.Remove(&p.h, t.index)
	}
	t.deadline = time.Now().Add(interval)
	t.armed = true
	heap.Push(&p.h, t)
}

func (p *Pile) unset(t *Timer) {
	if t.index >= 0 && t.index < len(p.h) && p.h[t.index] == t {
		heap.Remove(&p.h, t.index)
	}
	t.armed = false
}

// NextDeadline returns the earliest armed deadline and true, or the zero
// time and false if the pile is empty. The engine uses this as the poll
// timeout for its selector.
func (p *Pile) NextDeadline() (time.Time, bool) {
	if len(p.h) == 0 {
		return time.Time{}, false
	}
	return p.h[0].deadline, true
}

// Poll fires (and disarms) every timer whose deadline is at or before now,
// invoking each one's callback. It returns the number of timers fired. The
// engine calls Poll after each selector wakeup or timeout.
func (p *Pile) Poll(now time.Time) int {
	fired := 0
	for len(p.h) > 0 && !p.h[0].deadline.After(now) {
		t := heap.Pop(&p.h).(*Timer)
		t.armed = false
		if t.cb != nil {
			t.cb(t, t.ctx)
		}
		fired++
	}
	return fired
}

// Len reports the number of currently armed timers.
func (p *Pile) Len() int {
	return len(p.h)
}
