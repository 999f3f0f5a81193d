// Package bytearray is a serialization buffer for fixed-width integers,
// floats, zigzag-varint integers and length-prefixed strings, in the same
// vein as ljrServer's ByteArray (bytearray.h/.cpp).
//
// The original manages its own linked list of fixed-size memory blocks to
// avoid a single huge reallocation; Go's bytes.Buffer already amortizes
// growth the same way a std::vector would, so this port keeps one instead
// of re-implementing a block list — there is no third-party buffer library
// among the examples that does better than the standard one here, noted in
// DESIGN.md.
package bytearray

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ByteArray is a growable read/write buffer with the original's exact wire
// encodings: EncodeZigzag32/64 for the variable-length signed integers, and
// big-endian for everything fixed-width.
type ByteArray struct {
	buf bytes.Buffer
}

// New constructs an empty ByteArray. baseSize is accepted for interface
// parity with the original's block-size constructor argument but is
// otherwise unused; bytes.Buffer grows on demand.
func New(baseSize int) *ByteArray {
	ba := &ByteArray{}
	if baseSize > 0 {
		ba.buf.Grow(baseSize)
	}
	return ba
}

// Len returns the number of unread bytes.
func (b *ByteArray) Len() int { return b.buf.Len() }

// Bytes returns the unread contents without consuming them.
func (b *ByteArray) Bytes() []byte { return b.buf.Bytes() }

// Clear discards all buffered data.
func (b *ByteArray) Clear() { b.buf.Reset() }

// WriteFint8/WriteFuint8/... write fixed-width big-endian integers,
// matching writeFint8/writeFuint8/...
func (b *ByteArray) WriteFint8(v int8)    { b.buf.WriteByte(byte(v)) }
func (b *ByteArray) WriteFuint8(v uint8)  { b.buf.WriteByte(v) }
func (b *ByteArray) WriteFint16(v int16)  { b.writeFixed16(uint16(v)) }
func (b *ByteArray) WriteFuint16(v uint16) { b.writeFixed16(v) }
func (b *ByteArray) WriteFint32(v int32)  { b.writeFixed32(uint32(v)) }
func (b *ByteArray) WriteFuint32(v uint32) { b.writeFixed32(v) }
func (b *ByteArray) WriteFint64(v int64)  { b.writeFixed64(uint64(v)) }
func (b *ByteArray) WriteFuint64(v uint64) { b.writeFixed64(v) }

func (b *ByteArray) writeFixed16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *ByteArray) writeFixed32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *ByteArray) writeFixed64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
}

// WriteFloat/WriteDouble write IEEE-754 values via their fixed-width
// integer bit patterns, matching writeFloat/writeDouble.
func (b *ByteArray) WriteFloat(v float32)  { b.WriteFuint32(math.Float32bits(v)) }
func (b *ByteArray) WriteDouble(v float64) { b.WriteFuint64(math.Float64bits(v)) }

// WriteInt32/WriteUint32/WriteInt64/WriteUint64 write zigzag/varint-encoded
// integers, matching writeInt32/writeUint32/writeInt64/writeUint64. This
// fixes a one-off in some ports of the original: EncodeZigzag64 must shift
// by 63, not 32, or every negative int64 above 2^31 in magnitude silently
// truncates.
func (b *ByteArray) WriteInt32(v int32)  { b.WriteUint32(EncodeZigzag32(v)) }
func (b *ByteArray) WriteUint32(v uint32) { b.writeVarint(uint64(v)) }
func (b *ByteArray) WriteInt64(v int64)  { b.WriteUint64(EncodeZigzag64(v)) }
func (b *ByteArray) WriteUint64(v uint64) { b.writeVarint(v) }

func (b *ByteArray) writeVarint(v uint64) {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], v)
	b.buf.Write(tmp[:n])
}

// EncodeZigzag32 maps a signed 32-bit integer to an unsigned one so small
// magnitudes (positive or negative) both encode to few varint bytes.
func EncodeZigzag32(v int32) uint32 { return uint32((v << 1) ^ (v >> 31)) }

// DecodeZigzag32 reverses EncodeZigzag32.
func DecodeZigzag32(v uint32) int32 { return int32(v>>1) ^ -int32(v&1) }

// EncodeZigzag64 maps a signed 64-bit integer to an unsigned one. The shift
// amount is 63, one less than the type's bit width, matching the 32-bit
// case's own width-minus-one convention.
func EncodeZigzag64(v int64) uint64 { return uint64((v << 1) ^ (v >> 63)) }

// DecodeZigzag64 reverses EncodeZigzag64.
func DecodeZigzag64(v uint64) int64 { return int64(v>>1) ^ -int64(v&1) }

// WriteStringF16/F32/F64 write a length-prefixed string, the prefix being a
// fixed-width 16/32/64-bit unsigned length, matching
// writeStringF16/F32/F64.
func (b *ByteArray) WriteStringF16(s string) {
	b.WriteFuint16(uint16(len(s)))
	b.buf.WriteString(s)
}

func (b *ByteArray) WriteStringF32(s string) {
	b.WriteFuint32(uint32(len(s)))
	b.buf.WriteString(s)
}

func (b *ByteArray) WriteStringF64(s string) {
	b.WriteFuint64(uint64(len(s)))
	b.buf.WriteString(s)
}

// WriteStringVint writes a varint length prefix followed by s, matching
// writeStringVint.
func (b *ByteArray) WriteStringVint(s string) {
	b.writeVarint(uint64(len(s)))
	b.buf.WriteString(s)
}

// WriteStringWithoutLength writes s with no length prefix at all, matching
// writeStringWithoutLength.
func (b *ByteArray) WriteStringWithoutLength(s string) { b.buf.WriteString(s) }

// ReadFint8/... read back the corresponding fixed-width write, returning an
// error if too few bytes remain.
func (b *ByteArray) ReadFint8() (int8, error)  { v, err := b.readByte(); return int8(v), err }
func (b *ByteArray) ReadFuint8() (uint8, error) { return b.readByte() }

func (b *ByteArray) readByte() (byte, error) {
	v, err := b.buf.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("bytearray: read byte: %w", err)
	}
	return v, nil
}

func (b *ByteArray) ReadFint16() (int16, error) {
	v, err := b.readFixed16()
	return int16(v), err
}
func (b *ByteArray) ReadFuint16() (uint16, error) { return b.readFixed16() }

func (b *ByteArray) readFixed16() (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(&b.buf, tmp[:]); err != nil {
		return 0, fmt.Errorf("bytearray: read fixed16: %w", err)
	}
	return binary.BigEndian.Uint16(tmp[:]), nil
}

func (b *ByteArray) ReadFint32() (int32, error) {
	v, err := b.readFixed32()
	return int32(v), err
}
func (b *ByteArray) ReadFuint32() (uint32, error) { return b.readFixed32() }

func (b *ByteArray) readFixed32() (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(&b.buf, tmp[:]); err != nil {
		return 0, fmt.Errorf("bytearray: read fixed32: %w", err)
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func (b *ByteArray) ReadFint64() (int64, error) {
	v, err := b.readFixed64()
	return int64(v), err
}
func (b *ByteArray) ReadFuint64() (uint64, error) { return b.readFixed64() }

func (b *ByteArray) readFixed64() (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(&b.buf, tmp[:]); err != nil {
		return 0, fmt.Errorf("bytearray: read fixed64: %w", err)
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func (b *ByteArray) ReadFloat() (float32, error) {
	v, err := b.ReadFuint32()
	return math.Float32frombits(v), err
}

func (b *ByteArray) ReadDouble() (float64, error) {
	v, err := b.ReadFuint64()
	return math.Float64frombits(v), err
}

func (b *ByteArray) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return DecodeZigzag32(v), err
}

func (b *ByteArray) ReadUint32() (uint32, error) {
	v, err := binary.ReadUvarint(&b.buf)
	if err != nil {
		return 0, fmt.Errorf("bytearray: read varint32: %w", err)
	}
	return uint32(v), nil
}

func (b *ByteArray) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return DecodeZigzag64(v), err
}

func (b *ByteArray) ReadUint64() (uint64, error) {
	v, err := binary.ReadUvarint(&b.buf)
	if err != nil {
		return 0, fmt.Errorf("bytearray: read varint64: %w", err)
	}
	return v, nil
}

func (b *ByteArray) ReadStringF16() (string, error) {
	n, err := b.ReadFuint16()
	if err != nil {
		return "", err
	}
	return b.readString(int(n))
}

func (b *ByteArray) ReadStringF32() (string, error) {
	n, err := b.ReadFuint32()
	if err != nil {
		return "", err
	}
	return b.readString(int(n))
}

func (b *ByteArray) ReadStringF64() (string, error) {
	n, err := b.ReadFuint64()
	if err != nil {
		return "", err
	}
	return b.readString(int(n))
}

func (b *ByteArray) ReadStringVint() (string, error) {
	n, err := b.ReadUint64()
	if err != nil {
		return "", err
	}
	return b.readString(int(n))
}

func (b *ByteArray) readString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(&b.buf, buf); err != nil {
		return "", fmt.Errorf("bytearray: read string of length %d: %w", n, err)
	}
	return string(buf), nil
}

// Write implements io.Writer, appending p.
func (b *ByteArray) Write(p []byte) (int, error) { return b.buf.Write(p) }

// Read implements io.Reader, consuming up to len(p) bytes.
func (b *ByteArray) Read(p []byte) (int, error) { return b.buf.Read(p) }
