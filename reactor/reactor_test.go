package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newSocketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestAddEventFiresOnReadable(t *testing.T) {
	r, err := New(1, false, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start()
	defer func() {
		r.Stop()
		r.Close()
	}()

	a, b := newSocketPair(t)

	var fired atomic.Bool
	done := make(chan struct{})
	if err := r.AddEvent(a, EventRead, func() {
		fired.Store(true)
		close(done)
	}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event callback never fired")
	}

	if !fired.Load() {
		t.Fatal("expected fired to be true")
	}
}

func TestDelEventDoesNotFireWaiter(t *testing.T) {
	r, err := New(1, false, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start()
	defer func() {
		r.Stop()
		r.Close()
	}()

	a, _ := newSocketPair(t)

	var fired atomic.Bool
	if err := r.AddEvent(a, EventRead, func() { fired.Store(true) }); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	if !r.DelEvent(a, EventRead) {
		t.Fatal("expected DelEvent to report success")
	}

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Fatal("DelEvent must not fire the waiter")
	}
}

func TestCancelEventFiresWaiter(t *testing.T) {
	r, err := New(1, false, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start()
	defer func() {
		r.Stop()
		r.Close()
	}()

	a, _ := newSocketPair(t)

	var fired atomic.Bool
	if err := r.AddEvent(a, EventRead, func() { fired.Store(true) }); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	if !r.CancelEvent(a, EventRead) {
		t.Fatal("expected CancelEvent to report success")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fired.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("CancelEvent must fire the waiter")
}
