package tcpserver

import (
	"io"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lijianran/ljrserver/internal/netaddr"
	"github.com/lijianran/ljrserver/reactor"
	"github.com/lijianran/ljrserver/socket"
)

func TestEchoServerRoundTrip(t *testing.T) {
	r, err := reactor.New(2, false, "tcptest")
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	r.Start()
	defer func() {
		r.Stop()
		r.Close()
	}()

	srv := New("echo", r, nil, func(conn *socket.Socket) {
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		_, _ = conn.Write(buf[:n])
	})

	addr, err := netaddr.ParseIPv4("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	sa, err := unix.Getsockname(srv.ListenerAddr(0))
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	srv.Start()
	defer srv.Stop()

	time.Sleep(50 * time.Millisecond)

	client, err := socket.CreateTCPSocket()
	if err != nil {
		t.Fatalf("CreateTCPSocket: %v", err)
	}
	defer client.Close()

	if err := client.Connect(&unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", buf[:n], "ping")
	}
}
