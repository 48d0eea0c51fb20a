// Package offer implements the canonical binary encoding of wager offers and
// their detached ed25519 signatures.
package offer

import (
	"encoding/binary"
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// Serialize returns the canonical little-endian encoding that is signed:
//
//	fixtureId u64 | period u8 | threshold u32 | comparison u8 |
//	hasBinaryOp u8 [op u8] | statA.key u16 | hasStatB u8 [statB.key u16] |
//	stake u64 | odds u32 | expiration u64 | trader [32]byte
func Serialize(o domain.Offer) ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("offer: serialize: %w", err)
	}

	buf := make([]byte, 0, 80)
	buf = binary.LittleEndian.AppendUint64(buf, o.FixtureID)
	buf = append(buf, o.Period)
	buf = binary.LittleEndian.AppendUint32(buf, o.Predicate.Threshold)
	buf = append(buf, byte(o.Predicate.Comparison))
	buf = appendOption(buf, o.BinaryOp != nil)
	if o.BinaryOp != nil {
		buf = append(buf, byte(*o.BinaryOp))
	}
	buf = binary.LittleEndian.AppendUint16(buf, o.StatA.Key)
	buf = appendOption(buf, o.StatB != nil)
	if o.StatB != nil {
		buf = binary.LittleEndian.AppendUint16(buf, o.StatB.Key)
	}
	buf = binary.LittleEndian.AppendUint64(buf, o.Stake)
	buf = binary.LittleEndian.AppendUint32(buf, o.Odds)
	buf = binary.LittleEndian.AppendUint64(buf, o.Expiration)
	buf = append(buf, o.Trader[:]...)
	return buf, nil
}

// Deserialize is the inverse of Serialize. Trailing bytes are rejected.
func Deserialize(b []byte) (domain.Offer, error) {
	r := reader{buf: b}
	var o domain.Offer

	o.FixtureID = r.u64()
	o.Period = r.u8()
	o.Predicate.Threshold = r.u32()
	o.Predicate.Comparison = domain.Comparison(r.u8())
	if r.option() {
		op := domain.BinaryOp(r.u8())
		o.BinaryOp = &op
	}
	o.StatA.Key = r.u16()
	if r.option() {
		o.StatB = &domain.StatTerm{Key: r.u16()}
	}
	o.Stake = r.u64()
	o.Odds = r.u32()
	o.Expiration = r.u64()
	copy(o.Trader[:], r.take(32))

	if r.err != nil {
		return domain.Offer{}, fmt.Errorf("offer: deserialize: %w", r.err)
	}
	if r.off != len(b) {
		return domain.Offer{}, fmt.Errorf("offer: deserialize: %d trailing bytes", len(b)-r.off)
	}
	if err := o.Validate(); err != nil {
		return domain.Offer{}, fmt.Errorf("offer: deserialize: %w", err)
	}
	return o, nil
}

// EncodeOfferID is the 4-byte little-endian message an acceptor signs.
func EncodeOfferID(id uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, id)
}

func appendOption(buf []byte, present bool) []byte {
	if present {
		return append(buf, 1)
	}
	return append(buf, 0)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: short buffer at offset %d", domain.ErrMalformedPayload, r.off)
		return make([]byte, n)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8   { return r.take(1)[0] }
func (r *reader) u16() uint16 { return binary.LittleEndian.Uint16(r.take(2)) }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }
func (r *reader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }

func (r *reader) option() bool {
	switch tag := r.u8(); tag {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: option tag %d", domain.ErrMalformedPayload, tag)
		}
		return false
	}
}
