package bytearray

import "testing"

func TestFixedWidthRoundTrip(t *testing.T) {
	b := New(0)
	b.WriteFint32(-42)
	b.WriteFuint64(1 << 40)
	b.WriteDouble(3.14159)

	i32, err := b.ReadFint32()
	if err != nil || i32 != -42 {
		t.Fatalf("ReadFint32 = %d, %v", i32, err)
	}
	u64, err := b.ReadFuint64()
	if err != nil || u64 != 1<<40 {
		t.Fatalf("ReadFuint64 = %d, %v", u64, err)
	}
	f, err := b.ReadDouble()
	if err != nil || f != 3.14159 {
		t.Fatalf("ReadDouble = %v, %v", f, err)
	}
}

func TestZigzagRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40), 1<<62 - 1, -(1 << 62)}
	for _, v := range cases {
		got := DecodeZigzag64(EncodeZigzag64(v))
		if got != v {
			t.Fatalf("zigzag64 round trip: in=%d out=%d", v, got)
		}
	}

	cases32 := []int32{0, 1, -1, 1 << 20, -(1 << 20)}
	for _, v := range cases32 {
		got := DecodeZigzag32(EncodeZigzag32(v))
		if got != v {
			t.Fatalf("zigzag32 round trip: in=%d out=%d", v, got)
		}
	}
}

func TestVarintIntegerRoundTrip(t *testing.T) {
	b := New(0)
	b.WriteInt64(-1 << 50)
	b.WriteUint32(4000000000)
	b.WriteStringVint("hello, varint")

	i64, err := b.ReadInt64()
	if err != nil || i64 != -1<<50 {
		t.Fatalf("ReadInt64 = %d, %v", i64, err)
	}
	u32, err := b.ReadUint32()
	if err != nil || u32 != 4000000000 {
		t.Fatalf("ReadUint32 = %d, %v", u32, err)
	}
	s, err := b.ReadStringVint()
	if err != nil || s != "hello, varint" {
		t.Fatalf("ReadStringVint = %q, %v", s, err)
	}
}

func TestLengthPrefixedStrings(t *testing.T) {
	b := New(0)
	b.WriteStringF16("short")
	b.WriteStringF32("medium length string")

	s1, err := b.ReadStringF16()
	if err != nil || s1 != "short" {
		t.Fatalf("ReadStringF16 = %q, %v", s1, err)
	}
	s2, err := b.ReadStringF32()
	if err != nil || s2 != "medium length string" {
		t.Fatalf("ReadStringF32 = %q, %v", s2, err)
	}
}
