// Package timer implements the ordered timer set shared by every reactor:
// a min-heap keyed by deadline supporting cancellation, refresh (which
// removes and re-pushes the entry), one-shot and recurring timers, and
// conditional timers that silently no-op once their associated condition
// object has been garbage collected.
//
// Grounded on ljrServer's Timer/TimerManager (timer.h/timer.cpp): the
// std::set<Timer::ptr, Comparator> ordered by (deadline, identity) becomes a
// container/heap ordered by deadline alone; the order among timers with
// equal deadlines is not defined. detectClockRollover's "fire everything
// if the wall clock jumps backward more than an hour" defense is preserved
// verbatim; the pure-virtual onTimerInsertedAtFront hook becomes a plain
// callback field, since Go has no abstract-base-class requirement forcing
// virtual dispatch here.
package timer

import (
	"container/heap"
	"sync"
	"weak"

	"github.com/lijianran/ljrserver/internal/clock"
)

// Timer is a single scheduled callback. The zero Timer is not usable;
// obtain one from Manager.Add or Manager.AddCondition.
type Timer struct {
	mgr       *Manager
	ms        uint64 // interval in milliseconds
	next      uint64 // absolute deadline, clock.NowMS() units
	recurring bool
	cb        func()
	condAlive func() bool // set only for conditional timers
	index     int // heap slot, maintained by container/heap
	cancelled bool
}

// Cancel removes the timer from its manager. Safe to call more than once
// and safe to call from any goroutine; a timer already fired or already
// cancelled is a no-op.
func (t *Timer) Cancel() {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	if t.cancelled || t.index < 0 {
		return
	}
	heap.Remove(&t.mgr.h, t.index)
	t.cancelled = true
}

// Refresh extends the timer's deadline by its original interval measured
// from now, without changing the interval itself. Mirrors Timer::refresh.
func (t *Timer) Refresh() {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	if t.cancelled || t.index < 0 {
		return
	}
	heap.Remove(&t.mgr.h, t.index)
	t.next = clock.NowMS() + t.ms
	heap.Push(&t.mgr.h, t)
	t.mgr.checkFrontLocked()
}

// Reset changes the timer's interval. If fromNow is true the new deadline
// is measured from the current time; otherwise it is measured from the
// timer's original start time (next - ms), matching Timer::reset's
// from_now argument.
func (t *Timer) Reset(ms uint64, fromNow bool) {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	if t.cancelled || t.index < 0 {
		return
	}
	start := t.next - t.ms
	heap.Remove(&t.mgr.h, t.index)
	t.ms = ms
	if fromNow {
		start = clock.NowMS()
	}
	t.next = start + ms
	heap.Push(&t.mgr.h, t)
	t.mgr.checkFrontLocked()
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].next < h[j].next }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
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

// Manager is the ordered timer set. The zero Manager is not usable; use
// NewManager.
type Manager struct {
	mu sync.Mutex
	h  timerHeap

	// onInsertedAtFront is invoked (outside the lock) when a timer is added
	// or re-armed while the tickled latch is clear, so the owning reactor can
	// interrupt an in-progress epoll_wait that was sized against an older
	// deadline. It is not limited to timers that become the earliest
	// deadline.
	onInsertedAtFront func()

	previousTime uint64
	tickled      bool
}

// NewManager constructs a timer set. onInsertedAtFront may be nil.
func NewManager(onInsertedAtFront func()) *Manager {
	return &Manager{onInsertedAtFront: onInsertedAtFront, previousTime: clock.NowMS()}
}

// Add schedules cb to run after ms milliseconds (recurring, if set, re-arms
// the same interval after each firing) and returns a handle for
// cancellation/refresh.
func (m *Manager) Add(ms uint64, recurring bool, cb func()) *Timer {
	return m.addTimer(&Timer{ms: ms, recurring: recurring, cb: cb}, true)
}

// AddCondition schedules cb to run after ms milliseconds, but only if cond
// is still reachable (not garbage collected) at fire time. This mirrors
// addConditionTimer's std::weak_ptr guard, used by the syscall shim to
// avoid firing a timeout callback for an I/O wait that already completed
// and whose timer_info has since been dropped.
func AddCondition[T any](m *Manager, ms uint64, cond *T, cb func()) *Timer {
	wp := weak.Make(cond)
	t := &Timer{ms: ms, cb: cb, condAlive: func() bool { return wp.Value() != nil }}
	return m.addTimer(t, true)
}

func (m *Manager) addTimer(t *Timer, lock bool) *Timer {
	if lock {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	t.next = clock.NowMS() + t.ms
	t.mgr = m
	heap.Push(&m.h, t)
	m.checkFrontLocked()
	return t
}

// checkFrontLocked fires onInsertedAtFront on any add or re-arm while the
// tickled latch is clear, whether or not the new timer is the earliest
// deadline; the latch resets only inside listExpiredCb, as the original's
// m_tickled does.
func (m *Manager) checkFrontLocked() {
	if len(m.h) == 0 || m.h[0].index != 0 {
		return
	}
	if m.tickled {
		return
	}
	m.tickled = true
	cb := m.onInsertedAtFront
	if cb != nil {
		go cb()
	}
}

// NextTimeoutMS returns how many milliseconds until the earliest pending
// timer fires (0 if one is already due), and false if there are no pending
// timers. Mirrors TimerManager::getNextTimer.
func (m *Manager) NextTimeoutMS() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.h) == 0 {
		return 0, false
	}
	now := clock.NowMS()
	next := m.h[0].next
	if next <= now {
		return 0, true
	}
	return next - now, true
}

// HasTimer reports whether any timer is pending.
func (m *Manager) HasTimer() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.h) > 0
}

// Expired pops and returns every timer whose deadline has passed, applying
// the clock-rollover defense: if wall-clock time has jumped backward by
// more than an hour since the last check, every pending timer is considered
// expired (mirrors detectClockRollover). Recurring timers are re-armed
// before their callback is returned.
func (m *Manager) Expired() []func() {
	m.mu.Lock()

	now := clock.NowMS()
	rollover := false
	if now < m.previousTime && now < (m.previousTime-60*60*1000) {
		rollover = true
	}
	m.previousTime = now

	var expired []*Timer
	if rollover {
		expired = make([]*Timer, len(m.h))
		copy(expired, m.h)
		m.h = m.h[:0]
		for _, t := range expired {
			t.index = -1
		}
	} else {
		for len(m.h) > 0 && m.h[0].next <= now {
			expired = append(expired, heap.Pop(&m.h).(*Timer))
		}
	}

	m.tickled = false

	cbs := make([]func(), 0, len(expired))
	for _, t := range expired {
		if t.condAlive != nil && !t.condAlive() {
			continue
		}
		cbs = append(cbs, t.cb)
		if t.recurring && !t.cancelled {
			t.next = now + t.ms
			t.cancelled = false
			heap.Push(&m.h, t)
		}
	}

	m.mu.Unlock()
	return cbs
}
