package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// All multi-byte fields are little-endian, matching the packed layout used by
// the console and x86 PC clients.
var order = binary.LittleEndian

// EncodeHeader serializes a Header into its 12-byte wire form.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	order.PutUint32(buf[0:4], uint32(h.Command))
	order.PutUint32(buf[4:8], h.PayloadLength)
	order.PutUint32(buf[8:12], uint32(h.Result))
	return buf
}

// DecodeHeader deserializes the first 12 bytes of data into a Header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: %d bytes (need %d)", len(data), HeaderSize)
	}
	return Header{
		Command:       Command(order.Uint32(data[0:4])),
		PayloadLength: order.Uint32(data[4:8]),
		Result:        int32(order.Uint32(data[8:12])),
	}, nil
}

// EncodeFrame returns the header for cmd followed by payload.
func EncodeFrame(cmd Command, payload []byte) []byte {
	frame := EncodeHeader(Header{Command: cmd, PayloadLength: uint32(len(payload))})
	return append(frame, payload...)
}

// EncodeInt32 encodes a bare 32-bit payload (version, index, ...).
func EncodeInt32(v int32) []byte {
	buf := make([]byte, 4)
	order.PutUint32(buf, uint32(v))
	return buf
}

// DecodeInt32 reads a bare 32-bit payload.
func DecodeInt32(data []byte) (int32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("int32 payload too short: %d bytes", len(data))
	}
	return int32(order.Uint32(data)), nil
}

// EncodeCString encodes s as a NUL-terminated payload, the form used by
// commands addressing a partition or disc ID.
func EncodeCString(s string) []byte {
	return append([]byte(s), 0)
}

// DecodeCString returns the bytes of data up to the first NUL.
func DecodeCString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}

// ---------------------------------------------------------------------------
// Fixed-field accessors
// ---------------------------------------------------------------------------

// putString copies s into the fixed-width field and NUL-terminates it. The
// last byte of the field is always NUL.
func putString(field []byte, s string) {
	for i := range field {
		field[i] = 0
	}
	copy(field[:len(field)-1], s)
}

// record walks a packed buffer with an explicit cursor.
type record struct {
	buf []byte
	off int
}

func (r *record) next(n int) []byte {
	f := r.buf[r.off : r.off+n]
	r.off += n
	return f
}

func (r *record) u8() *byte         { return &r.next(1)[0] }
func (r *record) u32() []byte       { return r.next(4) }
func (r *record) str(n int) []byte  { return r.next(n) }
func getU32(field []byte) uint32    { return order.Uint32(field) }
func putU32(field []byte, v uint32) { order.PutUint32(field, v) }

func checkSize(name string, data []byte, size int) error {
	if len(data) < size {
		return fmt.Errorf("%s too short: %d bytes (need %d)", name, len(data), size)
	}
	return nil
}
