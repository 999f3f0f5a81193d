package httpserver

import (
	"bufio"

	"github.com/lijianran/ljrserver/socket"
)

// Session wraps a connected socket.Stream for request/response framing,
// matching HttpSession's recvRequest/sendResponse pair.
type Session struct {
	stream socket.Stream
	reader *bufio.Reader
}

// NewSession wraps stream.
func NewSession(stream socket.Stream) *Session {
	return &Session{stream: stream, reader: bufio.NewReaderSize(stream, requestBufferSizeVar.Value())}
}

// RecvRequest reads the next request off the connection.
func (s *Session) RecvRequest() (*Request, error) { return ReadRequest(s.reader) }

// SendResponse writes resp to the connection.
func (s *Session) SendResponse(resp *Response) error { return resp.WriteTo(s.stream) }

// Close closes the underlying connection.
func (s *Session) Close() error { return s.stream.Close() }
