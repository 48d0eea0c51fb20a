package offer

import (
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/crypto"
	"github.com/alanyoungcy/txoracle/internal/domain"
)

// Signer is the subset of crypto.Signer the offer protocol needs.
type Signer interface {
	PublicKey() domain.PublicKey
	Sign(msg []byte) []byte
}

// Sign signs the canonical encoding of o. The offer's trader must be the
// signer's own address.
func Sign(o domain.Offer, s Signer) ([]byte, error) {
	if o.Trader != s.PublicKey() {
		return nil, fmt.Errorf("offer: sign: %w: trader %s is not signer %s",
			domain.ErrSigningFailed, o.Trader, s.PublicKey())
	}
	msg, err := Serialize(o)
	if err != nil {
		return nil, err
	}
	return s.Sign(msg), nil
}

// Verify reports whether sig is pub's signature over the canonical encoding
// of o. Offers that fail validation never verify.
func Verify(o domain.Offer, sig []byte, pub domain.PublicKey) bool {
	msg, err := Serialize(o)
	if err != nil {
		return false
	}
	return crypto.Verify(pub, msg, sig)
}

// SignAcceptance signs the 4-byte little-endian offer id.
func SignAcceptance(offerID uint32, s Signer) []byte {
	return s.Sign(EncodeOfferID(offerID))
}

// VerifyAcceptance checks an acceptance signature.
func VerifyAcceptance(offerID uint32, sig []byte, pub domain.PublicKey) bool {
	return crypto.Verify(pub, EncodeOfferID(offerID), sig)
}
