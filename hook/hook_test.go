package hook

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lijianran/ljrserver/fdpool"
	"github.com/lijianran/ljrserver/fiber"
	"github.com/lijianran/ljrserver/reactor"
)

func TestDisabledPassesThrough(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if Enabled() {
		t.Fatal("hook should be disabled by default on this goroutine")
	}

	if _, err := Write(fds[1], []byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 2)
	n, err := Read(fds[0], buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 || string(buf) != "hi" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hi")
	}
}

func TestReadSuspendsUntilDataArrivesInsideReactor(t *testing.T) {
	r, err := reactor.New(1, false, "hooktest")
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	r.Start()
	defer func() {
		r.Stop()
		r.Close()
	}()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	// doIO only suspends on fds the registry tracks as sockets.
	fdpool.Default().Get(fds[0], true)

	resultCh := make(chan string, 1)

	r.ScheduleFunc(func() {
		SetEnabled(true)
		defer SetEnabled(false)

		_ = fiber.GetThis() // exercise the captured-fiber path used by doIO

		buf := make([]byte, 8)
		n, err := Read(fds[0], buf)
		if err != nil {
			resultCh <- "error: " + err.Error()
			return
		}
		resultCh <- string(buf[:n])
	}, -1)

	time.Sleep(50 * time.Millisecond)
	if _, err := unix.Write(fds[1], []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-resultCh:
		if got != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for hooked read to complete")
	}
}
