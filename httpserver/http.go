// Package httpserver implements a minimal HTTP/1.1 request/response model
// and servlet-style dispatcher atop tcpserver and socket.Stream, grounded
// on ljrServer's http/ subtree (http.h/.cpp, http_session.h/.cpp,
// http_parser.h/.cpp, servlet.h/.cpp).
//
// The original hand-writes an http_parser.rl-generated state machine; this
// port reads the request line and headers with bufio.Reader/textproto (the
// same machinery net/http itself is built on) instead of reimplementing a
// parser generator's output by hand, since nothing in the example pack
// supplies one and the standard library's textproto is exactly the
// "idiomatic Go way" this exercise asks for in such a case.
package httpserver

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/lijianran/ljrserver/internal/config"
)

// requestBufferSizeVar is http.request.buffer_size: the bufio.Reader size
// used to read each connection's requests.
var requestBufferSizeVar = config.LookupOrDefine(config.Default(), "http.request.buffer_size", 4096,
	"bufio.Reader buffer size in bytes used to read incoming requests")

// requestMaxBodySizeVar is http.request.max_body_size: ReadRequest refuses
// to allocate a body buffer larger than this, regardless of what
// Content-Length the peer claims.
var requestMaxBodySizeVar = config.LookupOrDefine(config.Default(), "http.request.max_body_size", 64<<20,
	"maximum accepted request body size in bytes")

// Request is a parsed HTTP/1.x request, matching HttpRequest's fields
// (method, path, query, version, headers, body) minus the cookie/param
// convenience accessors the original adds on top.
type Request struct {
	Method  string
	Path    string
	Query   string
	Version string
	Headers textproto.MIMEHeader
	Body    []byte
}

// Header returns the first value of the named header, case-insensitively.
func (r *Request) Header(name string) string { return r.Headers.Get(name) }

// ReadRequest parses one HTTP/1.x request from r, matching
// HttpParser::execute's role for the server side.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("httpserver: read request line: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("httpserver: malformed request line %q", line)
	}

	req := &Request{Method: parts[0], Version: parts[2]}
	target := parts[1]
	if i := strings.IndexByte(target, '?'); i >= 0 {
		req.Path, req.Query = target[:i], target[i+1:]
	} else {
		req.Path = target
	}

	tp := textproto.NewReader(r)
	headers, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("httpserver: read headers: %w", err)
	}
	req.Headers = headers

	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, fmt.Errorf("httpserver: invalid Content-Length %q: %w", cl, err)
		}
		if max := requestMaxBodySizeVar.Value(); n > max {
			return nil, fmt.Errorf("httpserver: Content-Length %d exceeds max_body_size %d", n, max)
		}
		if n > 0 {
			body := make([]byte, n)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("httpserver: read body: %w", err)
			}
			req.Body = body
		}
	}

	return req, nil
}

// Response is an in-progress HTTP/1.x response, matching HttpResponse.
type Response struct {
	Status  int
	Reason  string
	Version string
	Headers textproto.MIMEHeader
	Body    []byte
}

// NewResponse constructs a 200 OK response with an empty header set,
// matching HttpResponse's default-constructed state.
func NewResponse() *Response {
	return &Response{Status: 200, Reason: "OK", Version: "HTTP/1.1", Headers: textproto.MIMEHeader{}}
}

// SetHeader sets a response header, replacing any existing value.
func (resp *Response) SetHeader(key, value string) { resp.Headers.Set(key, value) }

// SetBody sets the response body and its Content-Length header.
func (resp *Response) SetBody(body []byte) {
	resp.Body = body
	resp.Headers.Set("Content-Length", strconv.Itoa(len(body)))
}

// WriteTo serializes the response onto w, matching HttpResponse::toString.
func (resp *Response) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	reason := resp.Reason
	if reason == "" {
		reason = statusText(resp.Status)
	}
	if _, err := fmt.Fprintf(bw, "%s %d %s\r\n", resp.Version, resp.Status, reason); err != nil {
		return err
	}
	for key, values := range resp.Headers {
		for _, v := range values {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", key, v); err != nil {
				return err
			}
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		if _, err := bw.Write(resp.Body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	default:
		return ""
	}
}
