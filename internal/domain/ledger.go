package domain

import "context"

// CommitmentRef addresses a published commitment root: a namespace plus the
// little-endian encoded time-bucket fields that make up its seeds.
type CommitmentRef struct {
	Namespace string
	Index     [][]byte
}

// StatProof is everything the ledger needs to check one or two statistics
// against a daily scores root and apply a predicate to them.
type StatProof struct {
	Ts            int64
	Summary       ScoresSummary
	SubTreeProof  []ProofNode
	MainTreeProof []ProofNode
	Predicate     Predicate
	StatA         StatBundle
	StatB         *StatBundle
	Op            *BinaryOp
	Commitment    CommitmentRef
}

// Settlement is a settleTrade request submitted by the winner.
type Settlement struct {
	TradeID uint64
	Winner  PublicKey
	Proof   StatProof
}

// Ledger is the client view of the ledger program, bound to one signing
// identity.
type Ledger interface {
	// Authority is the address that signs and pays for every instruction.
	Authority() PublicKey

	StakeAccount(ctx context.Context) (StakeAccount, error)
	// Stake locks the program's fixed stake amount for the authority.
	Stake(ctx context.Context) (string, error)
	Unstake(ctx context.Context) (string, error)
	Subscribe(ctx context.Context, encryptedToken []byte, endTs int64) (string, error)
	SubscribeWithToken(ctx context.Context, encryptedToken []byte) (string, error)
	PurchaseSubscriptionToken(ctx context.Context, lamports uint64) (string, error)
	SellSubscriptionToken(ctx context.Context, amount uint64) (string, error)

	TradingVaultExists(ctx context.Context) (bool, error)
	Deposit(ctx context.Context, amount uint64) (string, error)

	CommitmentPublished(ctx context.Context, ref CommitmentRef) (bool, error)
	ValidateFixture(ctx context.Context, v FixtureValidation, ref CommitmentRef) (string, error)
	ValidateOdds(ctx context.Context, v OddsValidation, ref CommitmentRef) (string, error)
	ValidateStat(ctx context.Context, p StatProof) (string, error)
	SettleTrade(ctx context.Context, s Settlement) (string, error)
}
