package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/platform/solana"
)

// DefaultSettleComputeUnits is the compute budget requested for settleTrade.
const DefaultSettleComputeUnits = 600_000

// Config binds a Client to one deployment of the ledger program.
type Config struct {
	ProgramID domain.PublicKey
	Mint      domain.PublicKey

	// TokenAccount overrides the signer's token account. When zero it is
	// derived as the associated token account of (authority, mint).
	TokenAccount           domain.PublicKey
	AssociatedTokenProgram domain.PublicKey

	SettleComputeUnits   uint32
	ValidateComputeUnits uint32 // 0 leaves the network default
}

// RPC is the subset of the JSON-RPC client the ledger client uses.
type RPC interface {
	GetAccountInfo(ctx context.Context, pk domain.PublicKey) (*solana.AccountInfo, error)
	SendAndConfirm(ctx context.Context, payer solana.TxSigner, ixs []solana.Instruction, extra ...solana.TxSigner) (string, error)
}

// Client implements domain.Ledger against a live ledger node.
type Client struct {
	rpc    RPC
	signer solana.TxSigner
	cfg    Config
	addrs  Addresses

	tokenProgram  domain.PublicKey
	systemProgram domain.PublicKey
	rent          domain.PublicKey

	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Ledger = (*Client)(nil)

// NewClient creates a ledger client that signs with signer.
func NewClient(rpc RPC, signer solana.TxSigner, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProgramID.IsZero() {
		return nil, errors.New("ledger: program id is required")
	}
	if cfg.Mint.IsZero() {
		return nil, errors.New("ledger: token mint is required")
	}
	if cfg.SettleComputeUnits == 0 {
		cfg.SettleComputeUnits = DefaultSettleComputeUnits
	}
	c := &Client{
		rpc:    rpc,
		signer: signer,
		cfg:    cfg,
		addrs:  Addresses{Program: cfg.ProgramID, Mint: cfg.Mint},
		now:    time.Now,
		logger: logger.With(slog.String("component", "ledger")),
	}
	var err error
	if c.tokenProgram, err = domain.PublicKeyFromBase58(solana.TokenProgramID); err != nil {
		return nil, err
	}
	if c.systemProgram, err = domain.PublicKeyFromBase58(solana.SystemProgramID); err != nil {
		return nil, err
	}
	if c.rent, err = domain.PublicKeyFromBase58(solana.SysvarRentID); err != nil {
		return nil, err
	}
	if cfg.TokenAccount.IsZero() && cfg.AssociatedTokenProgram.IsZero() {
		return nil, errors.New("ledger: token account or associated token program is required")
	}
	return c, nil
}

// Addresses exposes the address deriver the client uses.
func (c *Client) Addresses() Addresses { return c.addrs }

func (c *Client) Authority() domain.PublicKey { return c.signer.PublicKey() }

// TokenAccountOf returns the associated token account of owner for the
// configured mint.
func (c *Client) TokenAccountOf(owner domain.PublicKey) (domain.PublicKey, error) {
	if owner == c.Authority() && !c.cfg.TokenAccount.IsZero() {
		return c.cfg.TokenAccount, nil
	}
	if c.cfg.AssociatedTokenProgram.IsZero() {
		return domain.PublicKey{}, fmt.Errorf("ledger: no associated token program to derive account of %s", owner)
	}
	pk, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], c.tokenProgram[:], c.cfg.Mint[:]},
		c.cfg.AssociatedTokenProgram,
	)
	return pk, err
}

func (c *Client) send(ctx context.Context, op string, ixs ...solana.Instruction) (string, error) {
	sig, err := c.rpc.SendAndConfirm(ctx, c.signer, ixs)
	if err != nil {
		return sig, classify(op, err)
	}
	c.logger.InfoContext(ctx, "ledger: "+op+" confirmed", slog.String("signature", sig))
	return sig, nil
}

func (c *Client) withBudget(units uint32, ixs ...solana.Instruction) ([]solana.Instruction, error) {
	if units == 0 {
		return ixs, nil
	}
	budget, err := solana.SetComputeUnitLimit(units)
	if err != nil {
		return nil, err
	}
	return append([]solana.Instruction{budget}, ixs...), nil
}

// StakeAccount fetches the signer's stake record. It returns
// domain.ErrNoStake when the account does not exist.
func (c *Client) StakeAccount(ctx context.Context) (domain.StakeAccount, error) {
	addr, err := c.addrs.Stake(c.Authority())
	if err != nil {
		return domain.StakeAccount{}, err
	}
	info, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return domain.StakeAccount{}, fmt.Errorf("ledger: fetch stake account: %w", err)
	}
	if info == nil {
		return domain.StakeAccount{}, fmt.Errorf("ledger: %w for %s", domain.ErrNoStake, c.Authority())
	}
	return DecodeStakeAccount(addr, info.Data)
}

// LegacyStakeExists reports whether a stake account exists at the deprecated
// owner-only address.
func (c *Client) LegacyStakeExists(ctx context.Context) (bool, error) {
	addr, err := c.addrs.LegacyStake(c.Authority())
	if err != nil {
		return false, err
	}
	info, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// Stake creates the signer's stake account. The amount is fixed by the
// program.
func (c *Client) Stake(ctx context.Context) (string, error) {
	user := c.Authority()
	stake, err := c.addrs.Stake(user)
	if err != nil {
		return "", err
	}
	vault, err := c.addrs.Vault(user)
	if err != nil {
		return "", err
	}
	oracle, err := c.addrs.OracleState()
	if err != nil {
		return "", err
	}
	ata, err := c.TokenAccountOf(user)
	if err != nil {
		return "", err
	}
	return c.send(ctx, "stake", StakeIx(c.cfg.ProgramID, StakeAccounts{
		User: user, StakeAccount: stake, OracleState: oracle, StakeVault: vault,
		UserTokenAccount: ata, Mint: c.cfg.Mint, TokenProgram: c.tokenProgram, SystemProgram: c.systemProgram,
	}))
}

// Unstake withdraws the full stake. It refuses with domain.ErrStakeLocked
// before the unlock time.
func (c *Client) Unstake(ctx context.Context) (string, error) {
	acct, err := c.StakeAccount(ctx)
	if err != nil {
		return "", err
	}
	if c.now().Before(acct.Unlock()) {
		return "", fmt.Errorf("ledger: unstake: %w until %s", domain.ErrStakeLocked, acct.Unlock().UTC().Format(time.RFC3339))
	}
	user := c.Authority()
	vault, err := c.addrs.Vault(user)
	if err != nil {
		return "", err
	}
	ata, err := c.TokenAccountOf(user)
	if err != nil {
		return "", err
	}
	return c.send(ctx, "unstake", UnstakeIx(c.cfg.ProgramID, UnstakeAccounts{
		User: user, StakeAccount: acct.Address, StakeVault: vault, UserTokenAccount: ata, TokenProgram: c.tokenProgram,
	}))
}

func (c *Client) Subscribe(ctx context.Context, encryptedToken []byte, endTs int64) (string, error) {
	user := c.Authority()
	stake, err := c.addrs.Stake(user)
	if err != nil {
		return "", err
	}
	vault, err := c.addrs.Vault(user)
	if err != nil {
		return "", err
	}
	oracle, err := c.addrs.OracleState()
	if err != nil {
		return "", err
	}
	return c.send(ctx, "subscribe", SubscribeIx(c.cfg.ProgramID, SubscribeAccounts{
		User: user, OracleState: oracle, Mint: c.cfg.Mint, StakeAccount: stake, StakeVault: vault,
	}, encryptedToken, endTs))
}

func (c *Client) SubscribeWithToken(ctx context.Context, encryptedToken []byte) (string, error) {
	user := c.Authority()
	oracle, err := c.addrs.OracleState()
	if err != nil {
		return "", err
	}
	treasury, err := c.addrs.TokenTreasury()
	if err != nil {
		return "", err
	}
	ata, err := c.TokenAccountOf(user)
	if err != nil {
		return "", err
	}
	return c.send(ctx, "subscribe_with_token", SubscribeWithTokenIx(c.cfg.ProgramID, SubscribeWithTokenAccounts{
		User: user, Mint: c.cfg.Mint, OracleState: oracle, TokenTreasuryVault: treasury,
		UserTokenAccount: ata, TokenProgram: c.tokenProgram, SystemProgram: c.systemProgram,
	}, encryptedToken))
}

func (c *Client) PurchaseSubscriptionToken(ctx context.Context, lamports uint64) (string, error) {
	if c.cfg.AssociatedTokenProgram.IsZero() {
		return "", errors.New("ledger: purchase requires the associated token program address")
	}
	user := c.Authority()
	solTreasury, err := c.addrs.SolTreasury()
	if err != nil {
		return "", err
	}
	treasury, err := c.addrs.TokenTreasury()
	if err != nil {
		return "", err
	}
	ata, err := c.TokenAccountOf(user)
	if err != nil {
		return "", err
	}
	return c.send(ctx, "purchase_subscription_token", PurchaseSubscriptionTokenIx(c.cfg.ProgramID, PurchaseAccounts{
		Buyer: user, SolTreasury: solTreasury, TokenTreasuryVault: treasury, BuyerTokenAccount: ata,
		Mint: c.cfg.Mint, SystemProgram: c.systemProgram, TokenProgram: c.tokenProgram,
		AssociatedTokenProgram: c.cfg.AssociatedTokenProgram,
	}, lamports))
}

func (c *Client) SellSubscriptionToken(ctx context.Context, amount uint64) (string, error) {
	user := c.Authority()
	solTreasury, err := c.addrs.SolTreasury()
	if err != nil {
		return "", err
	}
	treasury, err := c.addrs.TokenTreasury()
	if err != nil {
		return "", err
	}
	ata, err := c.TokenAccountOf(user)
	if err != nil {
		return "", err
	}
	return c.send(ctx, "sell_subscription_token", SellSubscriptionTokenIx(c.cfg.ProgramID, SellAccounts{
		Seller: user, SolTreasury: solTreasury, TokenTreasuryVault: treasury, SellerTokenAccount: ata,
		Mint: c.cfg.Mint, SystemProgram: c.systemProgram, TokenProgram: c.tokenProgram,
	}, amount))
}

func (c *Client) TradingVaultExists(ctx context.Context) (bool, error) {
	vault, err := c.addrs.TradingVault(c.Authority())
	if err != nil {
		return false, err
	}
	info, err := c.rpc.GetAccountInfo(ctx, vault)
	if err != nil {
		return false, fmt.Errorf("ledger: fetch trading vault: %w", err)
	}
	return info != nil, nil
}

func (c *Client) Deposit(ctx context.Context, amount uint64) (string, error) {
	user := c.Authority()
	oracle, err := c.addrs.OracleState()
	if err != nil {
		return "", err
	}
	vault, err := c.addrs.TradingVault(user)
	if err != nil {
		return "", err
	}
	tokens, err := c.addrs.TradingTokens(user)
	if err != nil {
		return "", err
	}
	ata, err := c.TokenAccountOf(user)
	if err != nil {
		return "", err
	}
	return c.send(ctx, "deposit", DepositIx(c.cfg.ProgramID, DepositAccounts{
		User: user, OracleState: oracle, TradingVault: vault, TradingVaultTokens: tokens,
		UserTokenAccount: ata, Mint: c.cfg.Mint, TokenProgram: c.tokenProgram,
		SystemProgram: c.systemProgram, Rent: c.rent,
	}, amount))
}

// CommitmentPublished reports whether the root account for ref exists.
func (c *Client) CommitmentPublished(ctx context.Context, ref domain.CommitmentRef) (bool, error) {
	addr, err := c.addrs.Commitment(ref)
	if err != nil {
		return false, err
	}
	info, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("ledger: fetch %s root: %w", ref.Namespace, err)
	}
	return info != nil, nil
}

func (c *Client) ValidateFixture(ctx context.Context, v domain.FixtureValidation, ref domain.CommitmentRef) (string, error) {
	roots, err := c.addrs.Commitment(ref)
	if err != nil {
		return "", err
	}
	ixs, err := c.withBudget(c.cfg.ValidateComputeUnits, ValidateFixtureIx(c.cfg.ProgramID, roots, v))
	if err != nil {
		return "", err
	}
	return c.send(ctx, "validate_fixture", ixs...)
}

func (c *Client) ValidateOdds(ctx context.Context, v domain.OddsValidation, ref domain.CommitmentRef) (string, error) {
	roots, err := c.addrs.Commitment(ref)
	if err != nil {
		return "", err
	}
	ixs, err := c.withBudget(c.cfg.ValidateComputeUnits, ValidateOddsIx(c.cfg.ProgramID, roots, v))
	if err != nil {
		return "", err
	}
	return c.send(ctx, "validate_odds", ixs...)
}

func (c *Client) ValidateStat(ctx context.Context, p domain.StatProof) (string, error) {
	roots, err := c.addrs.Commitment(p.Commitment)
	if err != nil {
		return "", err
	}
	ixs, err := c.withBudget(c.cfg.ValidateComputeUnits, ValidateStatIx(c.cfg.ProgramID, roots, p))
	if err != nil {
		return "", err
	}
	return c.send(ctx, "validate_stat", ixs...)
}

// SettleTrade submits settleTrade for the signer, who must be the winner.
func (c *Client) SettleTrade(ctx context.Context, s domain.Settlement) (string, error) {
	if s.Winner != c.Authority() {
		return "", fmt.Errorf("ledger: settle trade %d: winner %s is not the signer", s.TradeID, s.Winner)
	}
	roots, err := c.addrs.Commitment(s.Proof.Commitment)
	if err != nil {
		return "", err
	}
	escrow, err := c.addrs.Escrow(s.TradeID)
	if err != nil {
		return "", err
	}
	escrowVault, err := c.addrs.EscrowVault(s.TradeID)
	if err != nil {
		return "", err
	}
	ata, err := c.TokenAccountOf(s.Winner)
	if err != nil {
		return "", err
	}
	ix := SettleTradeIx(c.cfg.ProgramID, SettleAccounts{
		Winner: s.Winner, DailyScoresRoots: roots, TradeEscrow: escrow, EscrowVault: escrowVault,
		WinnerTokenAccount: ata, TokenProgram: c.tokenProgram,
	}, s.TradeID, s.Proof)
	ixs, err := c.withBudget(c.cfg.SettleComputeUnits, ix)
	if err != nil {
		return "", err
	}
	return c.send(ctx, "settle_trade", ixs...)
}
