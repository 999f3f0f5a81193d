package socket

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestTCPSocketAcceptConnectRoundTrip(t *testing.T) {
	listener, err := CreateTCPSocket()
	if err != nil {
		t.Fatalf("CreateTCPSocket: %v", err)
	}
	defer listener.Close()

	if err := listener.Bind(&unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sa, err := unix.Getsockname(listener.Fd())
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	if err := listener.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client, err := CreateTCPSocket()
	if err != nil {
		t.Fatalf("CreateTCPSocket (client): %v", err)
	}
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		done <- client.Connect(&unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}, 0)
	}()

	server, err := listener.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close()

	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	stream := NewSocketStream(server)
	if err := WriteLengthPrefixed(stream, []byte("ping")); err != nil {
		t.Fatalf("WriteLengthPrefixed: %v", err)
	}

	clientStream := NewSocketStream(client)
	got, err := ReadLengthPrefixed(clientStream)
	if err != nil {
		t.Fatalf("ReadLengthPrefixed: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}
