package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// Signer produces detached ed25519 signatures for one ledger identity.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  domain.PublicKey
}

// NewSigner wraps an ed25519 private key.
func NewSigner(key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto/signer: private key has %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	pub, err := domain.PublicKeyFromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	return &Signer{privateKey: key, publicKey: pub}, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generating key: %w", err)
	}
	return NewSigner(key)
}

// PublicKey returns the signer's ledger address.
func (s *Signer) PublicKey() domain.PublicKey { return s.publicKey }

// Address returns the base58 ledger address.
func (s *Signer) Address() string { return s.publicKey.String() }

// Sign returns the 64-byte detached signature of msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.privateKey, msg)
}

// SignBase58 signs msg and base58-encodes the signature.
func (s *Signer) SignBase58(msg []byte) string {
	return base58.Encode(s.Sign(msg))
}

// Verify checks a detached signature of msg against pub.
func Verify(pub domain.PublicKey, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}
