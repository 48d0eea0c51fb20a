// Package borsh appends values in the ledger program's argument encoding:
// little-endian fixed-width integers, u8 option and bool tags, u32
// length-prefixed strings and vectors.
package borsh

import "encoding/binary"

// Encoder accumulates an encoded argument buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder whose output starts with prefix.
func NewEncoder(prefix []byte) *Encoder {
	e := &Encoder{buf: make([]byte, 0, 256)}
	e.buf = append(e.buf, prefix...)
	return e
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) U16(v uint16) *Encoder {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *Encoder) U32(v uint32) *Encoder {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	return e
}

func (e *Encoder) U64(v uint64) *Encoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

func (e *Encoder) I32(v int32) *Encoder { return e.U32(uint32(v)) }

func (e *Encoder) I64(v int64) *Encoder { return e.U64(uint64(v)) }

func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.U8(1)
	}
	return e.U8(0)
}

// Fixed appends b without a length prefix.
func (e *Encoder) Fixed(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

// VecBytes appends a length-prefixed byte vector.
func (e *Encoder) VecBytes(b []byte) *Encoder {
	e.U32(uint32(len(b)))
	return e.Fixed(b)
}

func (e *Encoder) String(s string) *Encoder {
	e.U32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

// OptionString appends None for nil, Some(s) otherwise.
func (e *Encoder) OptionString(s *string) *Encoder {
	if s == nil {
		return e.U8(0)
	}
	return e.U8(1).String(*s)
}

// Len appends a u32 vector length.
func (e *Encoder) Len(n int) *Encoder { return e.U32(uint32(n)) }
