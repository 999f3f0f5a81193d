// Package tcpserver provides the generic accept-loop skeleton every
// connection-oriented service in this module builds on: bind one or more
// addresses, accept connections on a dedicated fiber per listener, and hand
// each accepted connection to a per-connection fiber running Handler.
//
// Grounded on ljrServer's TcpServer (tcp_server.h/tcp_server.cpp): separate
// accept-worker and worker reactors, one startAccept loop per bound socket,
// and a recv-timeout applied to every accepted connection are all preserved.
package tcpserver

import (
	"fmt"
	"time"

	"github.com/lijianran/ljrserver/internal/config"
	"github.com/lijianran/ljrserver/internal/logging"
	"github.com/lijianran/ljrserver/internal/metrics"
	"github.com/lijianran/ljrserver/internal/netaddr"
	"github.com/lijianran/ljrserver/internal/ratelimit"
	"github.com/lijianran/ljrserver/reactor"
	"github.com/lijianran/ljrserver/socket"
)

var log = logging.Named("tcpserver")

// readTimeoutVar is tcp_server.read_timeout: the default recv timeout New
// applies to every accepted connection, overridable per-Server via
// SetRecvTimeout.
var readTimeoutVar = config.LookupOrDefine(config.Default(), "tcp_server.read_timeout", 120000,
	"default recv timeout in milliseconds applied to accepted connections")

// Handler processes one accepted connection. It runs on its own fiber;
// returning closes the connection.
type Handler func(conn *socket.Socket)

// Server is a generic TCP server: bind addresses, Start to begin accepting,
// Stop to drain.
type Server struct {
	Name string

	// Worker runs accepted connections' Handler fibers. AcceptWorker runs
	// the accept loop for each bound listener. Both default to the same
	// Reactor if AcceptWorker is nil, matching the original's
	// worker/acceptWorker defaulting to IOManager::GetThis().
	Worker       *reactor.Reactor
	AcceptWorker *reactor.Reactor

	RecvTimeout time.Duration
	Handler     Handler

	// AcceptRatePerSec caps accepted connections per second; 0 disables
	// the limiter. Connections rejected this way are closed immediately
	// without reaching Handler.
	AcceptRatePerSec int

	listeners []*socket.Socket
	stopped   bool
	limiter   *ratelimit.Limiter
}

// New constructs a Server. worker handles accepted connections; if
// acceptWorker is nil it also runs the accept loops.
func New(name string, worker, acceptWorker *reactor.Reactor, handler Handler) *Server {
	if acceptWorker == nil {
		acceptWorker = worker
	}
	return &Server{
		Name:         name,
		Worker:       worker,
		AcceptWorker: acceptWorker,
		RecvTimeout:  time.Duration(readTimeoutVar.Value()) * time.Millisecond,
		Handler:      handler,
	}
}

// Bind listens on a single address.
func (s *Server) Bind(addr netaddr.Address) error {
	fails, err := s.BindAll([]netaddr.Address{addr})
	if err != nil {
		return err
	}
	if len(fails) != 0 {
		return fmt.Errorf("tcpserver: bind %s failed", addr)
	}
	return nil
}

// BindAll attempts to bind every address in addrs, collecting any that
// fail into the returned slice (along with a non-nil error if any failed),
// matching TcpServer::bind's "bind as many as possible, report failures"
// contract.
func (s *Server) BindAll(addrs []netaddr.Address) ([]netaddr.Address, error) {
	var fails []netaddr.Address
	for _, addr := range addrs {
		sock, err := newListenSocket(addr)
		if err != nil {
			log.Err().Err(err).Str("addr", addr.String()).Log("bind failed")
			fails = append(fails, addr)
			continue
		}
		if err := sock.Listen(0); err != nil {
			log.Err().Err(err).Str("addr", addr.String()).Log("listen failed")
			fails = append(fails, addr)
			_ = sock.Close()
			continue
		}
		log.Info().Str("addr", addr.String()).Log("listening")
		s.listeners = append(s.listeners, sock)
	}
	if len(fails) != 0 {
		return fails, fmt.Errorf("tcpserver: %d address(es) failed to bind", len(fails))
	}
	return nil, nil
}

// ListenerAddr returns the fd of the i'th bound listener, so a caller that
// bound to port 0 can discover the ephemeral port the kernel assigned via
// unix.Getsockname.
func (s *Server) ListenerAddr(i int) int { return s.listeners[i].Fd() }

func newListenSocket(addr netaddr.Address) (*socket.Socket, error) {
	var sock *socket.Socket
	var err error
	switch addr.(type) {
	case *netaddr.IPv6:
		sock, err = socket.CreateTCPSocket6()
	case *netaddr.Unix:
		sock, err = socket.CreateUnixTCPSocket()
	default:
		sock, err = socket.CreateTCPSocket()
	}
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(addr.Sockaddr()); err != nil {
		_ = sock.Close()
		return nil, err
	}
	return sock, nil
}

// Start schedules one accept-loop fiber per bound listener onto
// AcceptWorker. Non-blocking: returns once the loops are scheduled.
func (s *Server) Start() {
	if s.AcceptRatePerSec > 0 {
		s.limiter = ratelimit.New(s.Name, s.AcceptRatePerSec)
	}
	for _, l := range s.listeners {
		l := l
		s.AcceptWorker.ScheduleFunc(func() { s.startAccept(l) }, -1)
	}
}

// startAccept is one listener's accept loop: accept, stamp the recv
// timeout, and dispatch the connection's Handler onto Worker. Matches
// TcpServer::startAccept.
func (s *Server) startAccept(l *socket.Socket) {
	for !s.stopped {
		conn, err := l.Accept()
		if err != nil {
			if s.stopped {
				return
			}
			log.Err().Err(err).Log("accept failed")
			continue
		}
		if s.limiter != nil && !s.limiter.Allow() {
			metrics.RateLimitRejections.WithLabelValues(s.Name).Inc()
			_ = conn.Close()
			continue
		}
		metrics.ConnectionsAccepted.WithLabelValues(s.Name).Inc()
		conn.SetRecvTimeout(s.RecvTimeout)
		s.Worker.ScheduleFunc(func() { s.handleClient(conn) }, -1)
	}
}

// handleClient runs Handler and always closes the connection afterward,
// matching TcpServer::handleClient's default behavior (subclasses in the
// original override this; here callers just supply Handler).
func (s *Server) handleClient(conn *socket.Socket) {
	metrics.ConnectionsActive.WithLabelValues(s.Name).Inc()
	defer func() {
		metrics.ConnectionsActive.WithLabelValues(s.Name).Dec()
		if r := recover(); r != nil {
			log.Err().Log(fmt.Sprintf("handler panicked: %v", r))
		}
		_ = conn.Close()
	}()
	s.Handler(conn)
}

// Stop marks the server stopped and closes every listener, unblocking any
// accept loops still running.
func (s *Server) Stop() {
	s.stopped = true
	for _, l := range s.listeners {
		_ = l.Close()
	}
}
