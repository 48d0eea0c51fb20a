package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKey is a 32-byte ledger address, rendered as base58.
type PublicKey [32]byte

// PublicKeyFromBase58 decodes a base58 address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("domain: decode public key %q: %w", s, err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("domain: public key %q has %d bytes, want 32", s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != len(pk) {
		return pk, fmt.Errorf("domain: public key has %d bytes, want 32", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func (k PublicKey) String() string { return base58.Encode(k[:]) }

// IsZero reports whether k is the all-zero key.
func (k PublicKey) IsZero() bool { return k == PublicKey{} }

func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PublicKey) UnmarshalText(text []byte) error {
	pk, err := PublicKeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*k = pk
	return nil
}
