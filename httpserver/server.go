package httpserver

import (
	"strconv"
	"time"

	"github.com/lijianran/ljrserver/internal/logging"
	"github.com/lijianran/ljrserver/internal/metrics"
	"github.com/lijianran/ljrserver/internal/netaddr"
	"github.com/lijianran/ljrserver/reactor"
	"github.com/lijianran/ljrserver/socket"
	"github.com/lijianran/ljrserver/tcpserver"
)

var log = logging.Named("http")

// Server is an HTTP/1.1 server built on tcpserver.Server, dispatching
// every connection's requests through a Dispatch. Matches the original's
// HttpServer, minus keep-alive configuration (this port always keeps a
// connection open across requests until the peer closes it or a parse
// error occurs, matching HTTP/1.1's default).
type Server struct {
	tcp      *tcpserver.Server
	Dispatch *Dispatch
	Name     string
}

// New constructs an HTTP server named name atop the given reactor(s).
func New(name string, worker, acceptWorker *reactor.Reactor) *Server {
	s := &Server{Dispatch: NewDispatch(), Name: name}
	s.tcp = tcpserver.New(name, worker, acceptWorker, s.serveConn)
	return s
}

// Bind binds addr, delegating to the embedded tcpserver.Server.
func (s *Server) Bind(addr netaddr.Address) error { return s.tcp.Bind(addr) }

// BindAll binds every address in addrs.
func (s *Server) BindAll(addrs []netaddr.Address) ([]netaddr.Address, error) {
	return s.tcp.BindAll(addrs)
}

// ListenerAddr returns the fd of the i'th bound listener, so a caller that
// bound to port 0 can discover the ephemeral port the kernel assigned.
func (s *Server) ListenerAddr(i int) int { return s.tcp.ListenerAddr(i) }

// SetAcceptRatePerSec caps accepted connections per second.
func (s *Server) SetAcceptRatePerSec(n int) { s.tcp.AcceptRatePerSec = n }

// SetRecvTimeout sets the per-connection receive timeout.
func (s *Server) SetRecvTimeout(d time.Duration) { s.tcp.RecvTimeout = d }

// Start begins accepting connections.
func (s *Server) Start() { s.tcp.Start() }

// Stop stops accepting and closes listeners.
func (s *Server) Stop() { s.tcp.Stop() }

// serveConn is this server's tcpserver.Handler: read requests off conn in
// a loop, dispatch each to Dispatch, write the response, until the
// connection closes or a request fails to parse.
func (s *Server) serveConn(conn *socket.Socket) {
	sess := NewSession(socket.NewSocketStream(conn))
	for {
		started := time.Now()
		req, err := sess.RecvRequest()
		if err != nil {
			return
		}

		resp := NewResponse()
		route := s.Dispatch.Match(req.Path)
		if err := route.Handle(req, resp, sess); err != nil {
			log.Err().Err(err).Str("path", req.Path).Log("servlet handler error")
			resp.Status = 500
			resp.SetBody([]byte("500 Internal Server Error"))
		}
		resp.SetHeader("Server", "ljrserver")

		if err := sess.SendResponse(resp); err != nil {
			return
		}

		metrics.HTTPRequestDuration.WithLabelValues(req.Path, strconv.Itoa(resp.Status)).
			Observe(time.Since(started).Seconds())

		if req.Header("Connection") == "close" {
			return
		}
	}
}
