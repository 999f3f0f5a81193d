package timer

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddFiresAfterInterval(t *testing.T) {
	m := NewManager(nil)
	var fired atomic.Bool
	m.Add(20, false, func() { fired.Store(true) })

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, cb := range m.Expired() {
			cb()
		}
		if fired.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timer never fired")
}

func TestCancelPreventsFiring(t *testing.T) {
	m := NewManager(nil)
	var fired atomic.Bool
	timer := m.Add(20, false, func() { fired.Store(true) })
	timer.Cancel()

	time.Sleep(60 * time.Millisecond)
	for _, cb := range m.Expired() {
		cb()
	}
	if fired.Load() {
		t.Fatal("cancelled timer fired")
	}
}

func TestRecurringTimerRearms(t *testing.T) {
	m := NewManager(nil)
	var count atomic.Int64
	timer := m.Add(10, true, func() { count.Add(1) })
	defer timer.Cancel()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, cb := range m.Expired() {
			cb()
		}
		if count.Load() >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recurring timer fired only %d times", count.Load())
}

func TestNextTimeoutMSNoTimers(t *testing.T) {
	m := NewManager(nil)
	if _, ok := m.NextTimeoutMS(); ok {
		t.Fatal("expected no pending timers")
	}
}

func TestConditionTimerSkippedWhenConditionCollected(t *testing.T) {
	m := NewManager(nil)
	var fired atomic.Bool

	func() {
		cond := &struct{ cancelled error }{}
		AddCondition(m, 10, cond, func() { fired.Store(true) })
	}()

	runtime.GC()
	time.Sleep(30 * time.Millisecond)
	for _, cb := range m.Expired() {
		cb()
	}
	if fired.Load() {
		t.Fatal("condition timer fired after its condition was collected")
	}
}
