// Package socket wraps a raw file descriptor as a cooperatively-suspending
// TCP/Unix socket, and implements the Stream abstraction (a uniform
// read/write interface also usable by anything else that needs fiber-aware
// framed or fixed-size IO: the HTTP layer's request/response bodies, for
// instance).
//
// Grounded on ljrServer's Socket (socket.h/.cpp) and Stream/SocketStream
// (stream.h, socket_stream.h/.cpp). The convenience constructors
// (CreateTCPSocket/CreateUnixTCPSocket, ...) and the accept/bind/
// connect/listen/close surface are preserved; every IO call goes through
// package hook so a Socket behaves exactly like the original's: a normal
// blocking-looking call from the application's point of view, transparent
// cooperative suspension underneath.
package socket

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lijianran/ljrserver/fdpool"
	"github.com/lijianran/ljrserver/hook"
)

// Family mirrors Socket::Family.
type Family int

const (
	IPv4 Family = unix.AF_INET
	IPv6 Family = unix.AF_INET6
	Unix Family = unix.AF_UNIX
)

// Kind mirrors Socket::Type.
type Kind int

const (
	TCP Kind = unix.SOCK_STREAM
	UDP Kind = unix.SOCK_DGRAM
)

// Socket is a cooperatively-suspending socket handle.
type Socket struct {
	fd          int
	family      Family
	kind        Kind
	protocol    int
	connected   bool
	localAddr   unix.Sockaddr
	remoteAddr  unix.Sockaddr
	recvTimeout time.Duration
	sendTimeout time.Duration
}

// New creates a new fd of the given family, kind and protocol via
// hook.Socket and wraps it in a Socket.
func New(family Family, kind Kind, protocol int) (*Socket, error) {
	fd, err := hook.Socket(int(family), int(kind), protocol)
	if err != nil {
		return nil, fmt.Errorf("socket: create: %w", err)
	}
	s := &Socket{fd: fd, family: family, kind: kind, protocol: protocol}
	s.initSockOpts()
	return s, nil
}

// CreateTCPSocket mirrors Socket::CreateTCPSocket.
func CreateTCPSocket() (*Socket, error) { return New(IPv4, TCP, 0) }

// CreateTCPSocket6 mirrors Socket::CreateTCPSocket6.
func CreateTCPSocket6() (*Socket, error) { return New(IPv6, TCP, 0) }

// CreateUnixTCPSocket mirrors Socket::CreateUnixTCPSocket.
func CreateUnixTCPSocket() (*Socket, error) { return New(Unix, TCP, 0) }

func (s *Socket) initSockOpts() {
	_ = unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if s.kind == TCP {
		_ = unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
}

// Fd returns the underlying file descriptor.
func (s *Socket) Fd() int { return s.fd }

// SetRecvTimeout sets the cooperative receive timeout applied by the
// syscall shim (not a real SO_RCVTIMEO, since the fiber never actually
// blocks in the kernel).
func (s *Socket) SetRecvTimeout(d time.Duration) {
	s.recvTimeout = d
	fdpool.Default().Get(s.fd, true).SetTimeout(fdpool.RecvTimeout, uint64(d.Milliseconds()))
}

// SetSendTimeout sets the cooperative send timeout.
func (s *Socket) SetSendTimeout(d time.Duration) {
	s.sendTimeout = d
	fdpool.Default().Get(s.fd, true).SetTimeout(fdpool.SendTimeout, uint64(d.Milliseconds()))
}

// Bind binds the socket to addr.
func (s *Socket) Bind(addr unix.Sockaddr) error {
	if err := unix.Bind(s.fd, addr); err != nil {
		return fmt.Errorf("socket: bind: %w", err)
	}
	s.localAddr = addr
	return nil
}

// Listen marks the socket as a listening socket with the given backlog
// (SOMAXCONN if 0).
func (s *Socket) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return fmt.Errorf("socket: listen: %w", err)
	}
	return nil
}

// Accept blocks the calling fiber (cooperatively) until a connection
// arrives, returning a connected Socket for it.
func (s *Socket) Accept() (*Socket, error) {
	fd, sa, err := hook.Accept(s.fd)
	if err != nil {
		return nil, fmt.Errorf("socket: accept: %w", err)
	}
	conn := &Socket{fd: fd, family: s.family, kind: s.kind, protocol: s.protocol, connected: true, remoteAddr: sa}
	conn.initSockOpts()
	return conn, nil
}

// Connect connects to addr, suspending the calling fiber until the
// connection completes or timeout elapses (0 uses hook.DefaultConnectTimeout).
func (s *Socket) Connect(addr unix.Sockaddr, timeout time.Duration) error {
	if err := hook.Connect(s.fd, addr, timeout); err != nil {
		return fmt.Errorf("socket: connect: %w", err)
	}
	s.connected = true
	s.remoteAddr = addr
	return nil
}

// Read implements io.Reader, suspending the calling fiber on EAGAIN.
func (s *Socket) Read(p []byte) (int, error) {
	n, err := hook.Read(s.fd, p)
	if err != nil {
		return n, mapIOErr(err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer, suspending the calling fiber on EAGAIN.
func (s *Socket) Write(p []byte) (int, error) {
	n, err := hook.Write(s.fd, p)
	if err != nil {
		return n, mapIOErr(err)
	}
	return n, nil
}

// Close closes the socket, cancelling any pending reactor waits on it.
func (s *Socket) Close() error {
	return hook.Close(s.fd)
}

func mapIOErr(err error) error {
	if err == hook.ErrTimedOut {
		return err
	}
	return fmt.Errorf("socket: io: %w", err)
}
