// Package wire reads and writes flat protobuf-encoded records without
// generated code. Every message in the module is a single level of bytes and
// varint fields.
package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed record")

type Record struct {
	bytes   map[protowire.Number][][]byte
	varints map[protowire.Number]uint64
}

// Parse decodes b. Unknown wire types are skipped.
func Parse(b []byte) (*Record, error) {
	r := &Record{
		bytes:   make(map[protowire.Number][][]byte),
		varints: make(map[protowire.Number]uint64),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrMalformed
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrMalformed
			}
			r.bytes[num] = append(r.bytes[num], append([]byte(nil), v...))
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrMalformed
			}
			r.varints[num] = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, ErrMalformed
			}
			b = b[n:]
		}
	}
	return r, nil
}

func (r *Record) Has(num protowire.Number) bool {
	if _, ok := r.bytes[num]; ok {
		return true
	}
	_, ok := r.varints[num]
	return ok
}

// Bytes returns the last value of a bytes field, or nil.
func (r *Record) Bytes(num protowire.Number) []byte {
	vs := r.bytes[num]
	if len(vs) == 0 {
		return nil
	}
	return vs[len(vs)-1]
}

// Fixed returns a bytes field only if it is exactly size bytes long.
func (r *Record) Fixed(num protowire.Number, size int) ([]byte, bool) {
	v := r.Bytes(num)
	if len(v) != size {
		return nil, false
	}
	return v, true
}

func (r *Record) List(num protowire.Number) [][]byte {
	return r.bytes[num]
}

func (r *Record) Uint(num protowire.Number) uint64 {
	return r.varints[num]
}

func (r *Record) String(num protowire.Number) string {
	return string(r.Bytes(num))
}

func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendOptional skips empty values.
func AppendOptional(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	return AppendBytes(b, num, v)
}

func AppendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func AppendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return AppendUint(b, num, 1)
}
