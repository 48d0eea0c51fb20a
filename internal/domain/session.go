package domain

import "time"

// Session is the per-identity credential pair attached to provider requests.
// It is passed explicitly; no client holds one as ambient state.
type Session struct {
	JWT       string
	APIToken  string
	ExpiresAt time.Time
}

// Activated reports whether the session carries an activation token.
func (s Session) Activated() bool { return s.APIToken != "" }

// Expired reports whether the subscription behind the session has lapsed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionCredential is the ephemeral key material that encrypts a session
// token for the subscribe instruction. Key is 32 bytes, IV 16 bytes.
type SessionCredential struct {
	Key        []byte
	IV         []byte
	Ciphertext []byte // ciphertext followed by the 16-byte auth tag
}

// StakeAccount is the ledger's per (owner, mint) stake record.
type StakeAccount struct {
	Address  PublicKey
	Owner    PublicKey
	Mint     PublicKey
	Amount   uint64
	UnlockTs int64 // unix seconds
}

// Unlock returns the unlock time.
func (s StakeAccount) Unlock() time.Time { return time.Unix(s.UnlockTs, 0) }

// Active reports whether the subscription backed by this stake is valid.
func (s StakeAccount) Active(now time.Time) bool { return now.Before(s.Unlock()) }
