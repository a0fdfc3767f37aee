// Package wire converts typed values to and from the byte layouts used on
// the Bpod serial link. All multi-byte integers are little-endian.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrEncoding = errors.New("wire: cannot encode value")
	ErrDecoding = errors.New("wire: short buffer")
)

type kind int

const (
	kindU8 kind = iota
	kindU16
	kindU32
	kindRaw
)

// Field is one fixed-width entry of a decoding Spec.
type Field struct {
	kind kind
	n    int
}

var (
	U8  = Field{kindU8, 1}
	U16 = Field{kindU16, 2}
	U32 = Field{kindU32, 4}
)

// Raw is a fixed-length run of n bytes, decoded as []byte.
func Raw(n int) Field {
	return Field{kindRaw, n}
}

// Spec is an ordered list of fields describing a fixed binary layout.
type Spec []Field

// Size returns the total number of bytes the spec consumes.
func (s Spec) Size() int {
	total := 0
	for _, f := range s {
		total += f.n
	}
	return total
}

// Unpack decodes data according to the spec and returns the decoded values
// in field order: uint8, uint16 and uint32 for the integer fields, []byte
// for raw runs. Exactly Size() bytes are consumed; fewer available bytes is
// an error.
func (s Spec) Unpack(data []byte) ([]any, error) {
	if len(data) < s.Size() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrDecoding, s.Size(), len(data))
	}

	values := make([]any, 0, len(s))
	for _, f := range s {
		switch f.kind {
		case kindU8:
			values = append(values, data[0])
		case kindU16:
			values = append(values, binary.LittleEndian.Uint16(data[:2]))
		case kindU32:
			values = append(values, binary.LittleEndian.Uint32(data[:4]))
		case kindRaw:
			raw := make([]byte, f.n)
			copy(raw, data[:f.n])
			values = append(values, raw)
		}
		data = data[f.n:]
	}
	return values, nil
}

// ToBytes encodes values for writing to the device. Byte slices pass
// through unchanged, ints must fit a single unsigned byte, strings encode
// as UTF-8, booleans as one byte, uint16/uint32 as little-endian, and
// nested slices as the concatenation of their elements in order. The
// result of ToBytes(a, b, c) equals ToBytes(a) + ToBytes(b) + ToBytes(c).
func ToBytes(values ...any) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range values {
		if err := encodeValue(&buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch v := v.(type) {
	case []byte:
		buf.Write(v)
	case byte:
		buf.WriteByte(v)
	case bool:
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int:
		if v < 0 || v > 0xff {
			return fmt.Errorf("%w: int %d does not fit a single byte", ErrEncoding, v)
		}
		buf.WriteByte(byte(v))
	case uint16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		buf.Write(b[:])
	case uint32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	case string:
		buf.WriteString(v)
	case []any:
		for _, e := range v {
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrEncoding, v)
	}
	return nil
}
