package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

const (
	sessionKeyLen = 32
	sessionIVLen  = 16
)

// SealSessionToken encrypts token under a fresh 256-bit key and 128-bit IV
// with AES-GCM. The result carries ciphertext followed by the auth tag, plus
// the key material the activation endpoint needs to decrypt it.
func SealSessionToken(token string) (domain.SessionCredential, error) {
	if token == "" {
		return domain.SessionCredential{}, errors.New("crypto: session token must not be empty")
	}
	key := make([]byte, sessionKeyLen)
	if _, err := rand.Read(key); err != nil {
		return domain.SessionCredential{}, fmt.Errorf("crypto: generating session key: %w", err)
	}
	iv := make([]byte, sessionIVLen)
	if _, err := rand.Read(iv); err != nil {
		return domain.SessionCredential{}, fmt.Errorf("crypto: generating session iv: %w", err)
	}
	gcm, err := sessionGCM(key)
	if err != nil {
		return domain.SessionCredential{}, err
	}
	return domain.SessionCredential{
		Key:        key,
		IV:         iv,
		Ciphertext: gcm.Seal(nil, iv, []byte(token), nil),
	}, nil
}

// EncodeKeyMaterial returns the key and IV in the URL-safe unpadded base64
// form expected by the activation query string.
func EncodeKeyMaterial(c domain.SessionCredential) (key, iv string) {
	return base64.RawURLEncoding.EncodeToString(c.Key), base64.RawURLEncoding.EncodeToString(c.IV)
}

func sessionGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating session cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, sessionIVLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating session GCM: %w", err)
	}
	return gcm, nil
}
