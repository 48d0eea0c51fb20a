// Package merkle relays and checks the inclusion proofs that link provider
// records to commitment roots published on the ledger. It normalises the
// provider's byte arrays, derives the time bucket a record is committed
// under, and recomputes roots from ordered proof nodes.
package merkle

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// NormalizeBytes maps each element to the unsigned byte it denotes: negative
// values are signed 8-bit encodings and get 256 added. Values outside
// [-128, 255] cannot be bytes in either encoding.
func NormalizeBytes(in []int) ([]byte, error) {
	out := make([]byte, len(in))
	for i, v := range in {
		switch {
		case v < -128 || v > 255:
			return nil, fmt.Errorf("%w: byte %d out of range: %d", domain.ErrMalformedPayload, i, v)
		case v < 0:
			out[i] = byte(v + 256)
		default:
			out[i] = byte(v)
		}
	}
	return out, nil
}

// NormalizeHash normalises a 32-element array into a Hash.
func NormalizeHash(in []int) (domain.Hash, error) {
	var h domain.Hash
	if len(in) != len(h) {
		return h, fmt.Errorf("%w: hash has %d bytes, want 32", domain.ErrMalformedPayload, len(in))
	}
	b, err := NormalizeBytes(in)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// RawBytes is a byte array as the provider transmits it: a JSON array of
// numbers, signed or unsigned.
type RawBytes []int

// UnmarshalJSON accepts a number array, or null.
func (r *RawBytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("%w: byte array: %v", domain.ErrMalformedPayload, err)
	}
	*r = ints
	return nil
}

// Hash normalises r into a Hash.
func (r RawBytes) Hash() (domain.Hash, error) { return NormalizeHash(r) }

// RawNode is a proof node as the provider transmits it.
type RawNode struct {
	Hash           RawBytes `json:"hash"`
	IsRightSibling bool     `json:"isRightSibling"`
}
