package merkle

import (
	"crypto/sha256"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// HashFunc hashes the concatenation of its arguments.
type HashFunc func(data ...[]byte) domain.Hash

// SHA256 is the default node hash.
func SHA256(data ...[]byte) domain.Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out domain.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Keccak256 is the alternative node hash for keccak-committed deployments.
func Keccak256(data ...[]byte) domain.Hash {
	var out domain.Hash
	copy(out[:], ethcrypto.Keccak256(data...))
	return out
}

// HasherByName resolves the configured hash name.
func HasherByName(name string) (HashFunc, error) {
	switch name {
	case "", "sha256":
		return SHA256, nil
	case "keccak256":
		return Keccak256, nil
	default:
		return nil, fmt.Errorf("merkle: unknown hash %q", name)
	}
}
