// Package solana is a minimal client for the ledger network: program address
// derivation, legacy transaction assembly and the JSON-RPC calls the oracle
// client needs.
package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

// Well-known program and sysvar addresses.
const (
	SystemProgramID        = "11111111111111111111111111111111"
	TokenProgramID         = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	ComputeBudgetProgramID = "ComputeBudget111111111111111111111111111111"
	SysvarRentID           = "SysvarRent111111111111111111111111111111111"
)

var errOnCurve = errors.New("solana: derived address is on the ed25519 curve")

// IsOnCurve reports whether b decodes to a valid ed25519 point.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds with the program id and rejects results
// that lie on the curve.
func CreateProgramAddress(seeds [][]byte, program domain.PublicKey) (domain.PublicKey, error) {
	if len(seeds) > maxSeeds {
		return domain.PublicKey{}, fmt.Errorf("solana: %d seeds exceeds %d", len(seeds), maxSeeds)
	}
	h := sha256.New()
	for i, s := range seeds {
		if len(s) > maxSeedLength {
			return domain.PublicKey{}, fmt.Errorf("solana: seed %d is %d bytes, max %d", i, len(s), maxSeedLength)
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)
	if IsOnCurve(sum) {
		return domain.PublicKey{}, errOnCurve
	}
	return domain.PublicKeyFromBytes(sum)
}

// FindProgramAddress searches bump seeds from 255 down for the first
// off-curve address.
func FindProgramAddress(seeds [][]byte, program domain.PublicKey) (domain.PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if errors.Is(err, errOnCurve) {
			continue
		}
		if err != nil {
			return domain.PublicKey{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return domain.PublicKey{}, 0, errors.New("solana: no viable bump seed")
}
