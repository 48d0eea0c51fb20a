// Package ledger is the client for the oracle's ledger program: account
// address derivation, instruction encoding and error classification over the
// solana JSON-RPC client.
package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/platform/solana"
)

// Account namespaces seeded by the ledger program.
const (
	NamespaceStake         = "stake"
	NamespaceVault         = "vault"
	NamespaceOracleState   = "oracle_state"
	NamespaceTokenTreasury = "token_treasury"
	NamespaceSolTreasury   = "sol_treasury"
	NamespaceTradingVault  = "trading_vault"
	NamespaceTradingTokens = "trading_tokens"
	NamespaceEscrow        = "escrow"
	NamespaceEscrowVault   = "escrow_vault"
)

// Addresses derives program accounts for one program and token mint.
type Addresses struct {
	Program domain.PublicKey
	Mint    domain.PublicKey
}

func (a Addresses) derive(seeds ...[]byte) (domain.PublicKey, error) {
	pk, _, err := solana.FindProgramAddress(seeds, a.Program)
	if err != nil {
		return domain.PublicKey{}, fmt.Errorf("ledger: derive %q: %w", seeds[0], err)
	}
	return pk, nil
}

// Stake is the stake record for (owner, mint).
func (a Addresses) Stake(owner domain.PublicKey) (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceStake), owner[:], a.Mint[:])
}

// Vault holds the tokens staked by owner.
func (a Addresses) Vault(owner domain.PublicKey) (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceVault), owner[:], a.Mint[:])
}

// LegacyStake is the deprecated owner-only stake address. It is only checked
// to warn about accounts created by older clients.
func (a Addresses) LegacyStake(owner domain.PublicKey) (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceStake), owner[:])
}

func (a Addresses) OracleState() (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceOracleState))
}

func (a Addresses) TokenTreasury() (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceTokenTreasury))
}

func (a Addresses) SolTreasury() (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceSolTreasury))
}

func (a Addresses) TradingVault(user domain.PublicKey) (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceTradingVault), user[:])
}

func (a Addresses) TradingTokens(user domain.PublicKey) (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceTradingTokens), user[:])
}

func (a Addresses) Escrow(tradeID uint64) (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceEscrow), binary.LittleEndian.AppendUint64(nil, tradeID))
}

func (a Addresses) EscrowVault(tradeID uint64) (domain.PublicKey, error) {
	return a.derive([]byte(NamespaceEscrowVault), binary.LittleEndian.AppendUint64(nil, tradeID))
}

// Commitment resolves a commitment root account.
func (a Addresses) Commitment(ref domain.CommitmentRef) (domain.PublicKey, error) {
	seeds := append([][]byte{[]byte(ref.Namespace)}, ref.Index...)
	return a.derive(seeds...)
}
