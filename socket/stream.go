package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Stream is the uniform byte-stream abstraction sitting above a raw
// connection: the HTTP layer, and anything else speaking a framed or
// fixed-size wire protocol, reads and writes through this instead of a
// concrete Socket. Grounded on ljrServer's Stream (stream.h).
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// ReadFixSize reads exactly len(p) bytes, returning ErrShortStream if
	// the stream closes first. Matches Stream::readFixSize.
	ReadFixSize(p []byte) error

	// WriteFixSize writes all of p, matching Stream::writeFixSize.
	WriteFixSize(p []byte) error
}

// ErrShortStream is returned by ReadFixSize when the stream ends before the
// requested number of bytes arrived.
var ErrShortStream = errors.New("socket: stream closed before fixed-size read completed")

// SocketStream adapts a *Socket to the Stream interface.
type SocketStream struct {
	*Socket
}

// NewSocketStream wraps sock as a Stream.
func NewSocketStream(sock *Socket) *SocketStream {
	return &SocketStream{Socket: sock}
}

// ReadFixSize implements Stream.
func (s *SocketStream) ReadFixSize(p []byte) error {
	_, err := io.ReadFull(s.Socket, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrShortStream
	}
	return err
}

// WriteFixSize implements Stream.
func (s *SocketStream) WriteFixSize(p []byte) error {
	_, err := writeAll(s.Socket, p)
	return err
}

func writeAll(w io.Writer, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadLengthPrefixed reads a big-endian uint32 length prefix followed by
// that many bytes, a framing convenience.
func ReadLengthPrefixed(s Stream) ([]byte, error) {
	var hdr [4]byte
	if err := s.ReadFixSize(hdr[:]); err != nil {
		return nil, fmt.Errorf("socket: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if err := s.ReadFixSize(buf); err != nil {
		return nil, fmt.Errorf("socket: read length-prefixed body: %w", err)
	}
	return buf, nil
}

// WriteLengthPrefixed writes p preceded by its big-endian uint32 length.
func WriteLengthPrefixed(s Stream, p []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
	if err := s.WriteFixSize(hdr[:]); err != nil {
		return fmt.Errorf("socket: write length prefix: %w", err)
	}
	return s.WriteFixSize(p)
}
