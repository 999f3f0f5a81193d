// Package httpclient is a minimal cooperative HTTP/1.1 client built on
// package socket, grounded on ljrServer's HttpConnection/HttpResult
// (http_connection.h/.cpp): connect, write a request line plus headers,
// read back a status line plus headers plus body, and report failures
// through a small typed Error enum instead of the original's bare
// errno-adjacent int codes.
package httpclient

import (
	"bufio"
	"errors"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/lijianran/ljrserver/hook"
	"github.com/lijianran/ljrserver/internal/config"
	"github.com/lijianran/ljrserver/internal/netaddr"
	"github.com/lijianran/ljrserver/socket"
)

// responseBufferSizeVar is http.response.buffer_size: the bufio.Reader size
// used to read back a response.
var responseBufferSizeVar = config.LookupOrDefine(config.Default(), "http.response.buffer_size", 4096,
	"bufio.Reader buffer size in bytes used to read responses")

// responseMaxBodySizeVar is http.response.max_body_size: readResponse
// refuses to allocate a body buffer larger than this, regardless of what
// Content-Length the peer claims.
var responseMaxBodySizeVar = config.LookupOrDefine(config.Default(), "http.response.max_body_size", 64<<20,
	"maximum accepted response body size in bytes")

// Error is HttpResult::Error's Go-idiomatic equivalent: a small closed set
// of client-side failure categories a caller might want to branch on,
// distinct from the underlying error's text.
type Error int

const (
	ErrNone Error = iota
	ErrInvalidHost
	ErrConnectFailed
	ErrSendFailed
	ErrRecvFailed
	ErrTimeout
)

func (e Error) String() string {
	switch e {
	case ErrNone:
		return "ok"
	case ErrInvalidHost:
		return "invalid host"
	case ErrConnectFailed:
		return "connect failed"
	case ErrSendFailed:
		return "send failed"
	case ErrRecvFailed:
		return "recv failed"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result is HttpResult's Go equivalent.
type Result struct {
	Err      Error
	Status   int
	Headers  textproto.MIMEHeader
	Body     []byte
	Underlying error
}

func fail(e Error, underlying error) *Result { return &Result{Err: e, Underlying: underlying} }

// Request describes one outgoing HTTP/1.1 request.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Do connects to hostport, sends req, and returns the parsed response.
// Matches HttpConnection::DoRequest's single-shot (connect, send, recv,
// close) convenience path.
func Do(hostport string, req Request) *Result {
	addr, err := netaddr.ParseIPv4(hostport)
	if err != nil {
		return fail(ErrInvalidHost, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	sock, err := socket.CreateTCPSocket()
	if err != nil {
		return fail(ErrConnectFailed, err)
	}
	defer sock.Close()

	if err := sock.Connect(addr.Sockaddr(), timeout); err != nil {
		if errors.Is(err, hook.ErrTimedOut) {
			return fail(ErrTimeout, err)
		}
		return fail(ErrConnectFailed, err)
	}
	sock.SetRecvTimeout(timeout)
	sock.SetSendTimeout(timeout)

	stream := socket.NewSocketStream(sock)
	if err := writeRequest(stream, hostport, req); err != nil {
		return fail(ErrSendFailed, err)
	}

	resp, err := readResponse(stream)
	if err != nil {
		return fail(ErrRecvFailed, err)
	}
	return resp
}

func writeRequest(stream socket.Stream, hostport string, req Request) error {
	method := req.Method
	if method == "" {
		method = "GET"
	}
	path := req.Path
	if path == "" {
		path = "/"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s HTTP/1.1\r\n", method, path)
	fmt.Fprintf(&sb, "Host: %s\r\n", hostport)
	fmt.Fprintf(&sb, "Connection: close\r\n")
	for k, v := range req.Headers {
		fmt.Fprintf(&sb, "%s: %s\r\n", k, v)
	}
	if len(req.Body) > 0 {
		fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(req.Body))
	}
	sb.WriteString("\r\n")

	if err := stream.WriteFixSize([]byte(sb.String())); err != nil {
		return err
	}
	if len(req.Body) > 0 {
		return stream.WriteFixSize(req.Body)
	}
	return nil
}

func readResponse(stream socket.Stream) (*Result, error) {
	r := bufio.NewReaderSize(stream, responseBufferSizeVar.Value())

	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("httpclient: read status line: %w", err)
	}
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("httpclient: malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("httpclient: invalid status code %q: %w", parts[1], err)
	}

	tp := textproto.NewReader(r)
	headers, err := tp.ReadMIMEHeader()
	if err != nil {
		headers = textproto.MIMEHeader{}
	}

	result := &Result{Status: status, Headers: headers}

	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, fmt.Errorf("httpclient: invalid Content-Length %q: %w", cl, err)
		}
		if max := responseMaxBodySizeVar.Value(); n > max {
			return nil, fmt.Errorf("httpclient: Content-Length %d exceeds max_body_size %d", n, max)
		}
		if n > 0 {
			body := make([]byte, n)
			if _, err := readFull(r, body); err != nil {
				return nil, fmt.Errorf("httpclient: read body: %w", err)
			}
			result.Body = body
		}
	}

	return result, nil
}

func readFull(r *bufio.Reader, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := r.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
