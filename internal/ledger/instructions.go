package ledger

import (
	"crypto/sha256"

	"github.com/alanyoungcy/txoracle/internal/borsh"
	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
	"github.com/alanyoungcy/txoracle/internal/platform/solana"
)

// discriminator is the 8-byte instruction selector: sha256("global:<name>").
func discriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// accountDiscriminator is the 8-byte account type tag: sha256("account:<Type>").
func accountDiscriminator(typeName string) []byte {
	sum := sha256.Sum256([]byte("account:" + typeName))
	return sum[:8]
}

func args(name string) *borsh.Encoder { return borsh.NewEncoder(discriminator(name)) }

func appendPredicate(e *borsh.Encoder, p domain.Predicate) {
	e.U32(p.Threshold).U8(uint8(p.Comparison))
}

func appendStatBundle(e *borsh.Encoder, b domain.StatBundle) {
	merkle.AppendStatValue(e, b.Stat)
	e.Fixed(b.EventStatRoot[:])
	merkle.AppendProof(e, b.StatProof)
}

// appendStatProofArgs writes the arguments validateStat and settleTrade
// share: ts, summary, subtree proof, main proof, predicate, stat A, optional
// stat B, optional binary op.
func appendStatProofArgs(e *borsh.Encoder, p domain.StatProof) {
	e.I64(p.Ts)
	merkle.AppendScoresSummary(e, p.Summary)
	merkle.AppendProof(e, p.SubTreeProof)
	merkle.AppendProof(e, p.MainTreeProof)
	appendPredicate(e, p.Predicate)
	appendStatBundle(e, p.StatA)
	if p.StatB == nil {
		e.U8(0)
	} else {
		e.U8(1)
		appendStatBundle(e, *p.StatB)
	}
	if p.Op == nil {
		e.U8(0)
	} else {
		e.U8(1).U8(uint8(*p.Op))
	}
}

func instruction(program domain.PublicKey, data []byte, accounts ...solana.AccountMeta) solana.Instruction {
	return solana.Instruction{ProgramID: program, Accounts: accounts, Data: data}
}

// StakeAccounts lists the accounts of the stake instruction.
type StakeAccounts struct {
	User, StakeAccount, OracleState, StakeVault, UserTokenAccount, Mint, TokenProgram, SystemProgram domain.PublicKey
}

func StakeIx(program domain.PublicKey, a StakeAccounts) solana.Instruction {
	return instruction(program, args("stake").Bytes(),
		solana.Signer(a.User),
		solana.Writable(a.StakeAccount),
		solana.Writable(a.OracleState),
		solana.Writable(a.StakeVault),
		solana.Writable(a.UserTokenAccount),
		solana.Readonly(a.Mint),
		solana.Readonly(a.TokenProgram),
		solana.Readonly(a.SystemProgram),
	)
}

// UnstakeAccounts lists the accounts of the unstake instruction.
type UnstakeAccounts struct {
	User, StakeAccount, StakeVault, UserTokenAccount, TokenProgram domain.PublicKey
}

func UnstakeIx(program domain.PublicKey, a UnstakeAccounts) solana.Instruction {
	return instruction(program, args("unstake").Bytes(),
		solana.Signer(a.User),
		solana.Writable(a.StakeAccount),
		solana.Writable(a.StakeVault),
		solana.Writable(a.UserTokenAccount),
		solana.Readonly(a.TokenProgram),
	)
}

// SubscribeAccounts lists the accounts of the subscribe instruction.
type SubscribeAccounts struct {
	User, OracleState, Mint, StakeAccount, StakeVault domain.PublicKey
}

func SubscribeIx(program domain.PublicKey, a SubscribeAccounts, encryptedToken []byte, endTs int64) solana.Instruction {
	return instruction(program, args("subscribe").VecBytes(encryptedToken).I64(endTs).Bytes(),
		solana.Signer(a.User),
		solana.Writable(a.OracleState),
		solana.Readonly(a.Mint),
		solana.Writable(a.StakeAccount),
		solana.Readonly(a.StakeVault),
	)
}

// SubscribeWithTokenAccounts lists the accounts of subscribeWithToken.
type SubscribeWithTokenAccounts struct {
	User, Mint, OracleState, TokenTreasuryVault, UserTokenAccount, TokenProgram, SystemProgram domain.PublicKey
}

func SubscribeWithTokenIx(program domain.PublicKey, a SubscribeWithTokenAccounts, encryptedToken []byte) solana.Instruction {
	return instruction(program, args("subscribe_with_token").VecBytes(encryptedToken).Bytes(),
		solana.Signer(a.User),
		solana.Writable(a.Mint),
		solana.Writable(a.OracleState),
		solana.Writable(a.TokenTreasuryVault),
		solana.Writable(a.UserTokenAccount),
		solana.Readonly(a.TokenProgram),
		solana.Readonly(a.SystemProgram),
	)
}

// PurchaseAccounts lists the accounts of purchaseSubscriptionToken.
type PurchaseAccounts struct {
	Buyer, SolTreasury, TokenTreasuryVault, BuyerTokenAccount, Mint, SystemProgram, TokenProgram, AssociatedTokenProgram domain.PublicKey
}

func PurchaseSubscriptionTokenIx(program domain.PublicKey, a PurchaseAccounts, lamports uint64) solana.Instruction {
	return instruction(program, args("purchase_subscription_token").U64(lamports).Bytes(),
		solana.Signer(a.Buyer),
		solana.Writable(a.SolTreasury),
		solana.Writable(a.TokenTreasuryVault),
		solana.Writable(a.BuyerTokenAccount),
		solana.Readonly(a.Mint),
		solana.Readonly(a.SystemProgram),
		solana.Readonly(a.TokenProgram),
		solana.Readonly(a.AssociatedTokenProgram),
	)
}

// SellAccounts lists the accounts of sellSubscriptionToken.
type SellAccounts struct {
	Seller, SolTreasury, TokenTreasuryVault, SellerTokenAccount, Mint, SystemProgram, TokenProgram domain.PublicKey
}

func SellSubscriptionTokenIx(program domain.PublicKey, a SellAccounts, amount uint64) solana.Instruction {
	return instruction(program, args("sell_subscription_token").U64(amount).Bytes(),
		solana.Signer(a.Seller),
		solana.Writable(a.SolTreasury),
		solana.Writable(a.TokenTreasuryVault),
		solana.Writable(a.SellerTokenAccount),
		solana.Readonly(a.Mint),
		solana.Readonly(a.SystemProgram),
		solana.Readonly(a.TokenProgram),
	)
}

// DepositAccounts lists the accounts of the trading-vault deposit.
type DepositAccounts struct {
	User, OracleState, TradingVault, TradingVaultTokens, UserTokenAccount, Mint, TokenProgram, SystemProgram, Rent domain.PublicKey
}

func DepositIx(program domain.PublicKey, a DepositAccounts, amount uint64) solana.Instruction {
	return instruction(program, args("deposit").U64(amount).Bytes(),
		solana.Signer(a.User),
		solana.Readonly(a.OracleState),
		solana.Writable(a.TradingVault),
		solana.Writable(a.TradingVaultTokens),
		solana.Writable(a.UserTokenAccount),
		solana.Readonly(a.Mint),
		solana.Readonly(a.TokenProgram),
		solana.Readonly(a.SystemProgram),
		solana.Readonly(a.Rent),
	)
}

func ValidateFixtureIx(program, roots domain.PublicKey, v domain.FixtureValidation) solana.Instruction {
	e := args("validate_fixture")
	merkle.AppendFixture(e, v.Snapshot)
	merkle.AppendFixturesSummary(e, v.Summary)
	merkle.AppendProof(e, v.SubTreeProof)
	merkle.AppendProof(e, v.MainTreeProof)
	return instruction(program, e.Bytes(), solana.Readonly(roots))
}

func ValidateOddsIx(program, roots domain.PublicKey, v domain.OddsValidation) solana.Instruction {
	e := args("validate_odds").I64(v.Odds.Ts)
	merkle.AppendOdds(e, v.Odds)
	merkle.AppendOddsSummary(e, v.Summary)
	merkle.AppendProof(e, v.SubTreeProof)
	merkle.AppendProof(e, v.MainTreeProof)
	return instruction(program, e.Bytes(), solana.Readonly(roots))
}

func ValidateStatIx(program, roots domain.PublicKey, p domain.StatProof) solana.Instruction {
	e := args("validate_stat")
	appendStatProofArgs(e, p)
	return instruction(program, e.Bytes(), solana.Readonly(roots))
}

// SettleAccounts lists the accounts of settleTrade.
type SettleAccounts struct {
	Winner, DailyScoresRoots, TradeEscrow, EscrowVault, WinnerTokenAccount, TokenProgram domain.PublicKey
}

func SettleTradeIx(program domain.PublicKey, a SettleAccounts, tradeID uint64, p domain.StatProof) solana.Instruction {
	e := args("settle_trade").U64(tradeID)
	appendStatProofArgs(e, p)
	return instruction(program, e.Bytes(),
		solana.Signer(a.Winner),
		solana.Readonly(a.DailyScoresRoots),
		solana.Writable(a.TradeEscrow),
		solana.Writable(a.EscrowVault),
		solana.Writable(a.WinnerTokenAccount),
		solana.Readonly(a.TokenProgram),
	)
}
