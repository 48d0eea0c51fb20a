// Package paper is an in-memory ledger used by the paper trading mode and by
// tests. It enforces the same proof, predicate and escrow rules the program
// does, against roots published with PublishRoot.
package paper

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
)

// LamportsPerToken is the fixed price of one subscription token.
const LamportsPerToken = 1_000_000

// DefaultStakeAmount is the fixed amount a stake locks.
const DefaultStakeAmount = 1_000

// DefaultLockPeriod is how long a fresh stake stays locked.
const DefaultLockPeriod = 30 * 24 * time.Hour

type escrow struct {
	maker, taker domain.PublicKey
	amount       uint64
	settled      bool
	winner       domain.PublicKey
}

// Book is the shared state behind every participant's Ledger view.
type Book struct {
	mu sync.Mutex

	hasher      merkle.HashFunc
	lockPeriod  time.Duration
	stakeAmount uint64
	now         func() time.Time

	balances      map[domain.PublicKey]uint64
	tokens        map[domain.PublicKey]uint64
	lamports      map[domain.PublicKey]uint64
	stakes        map[domain.PublicKey]domain.StakeAccount
	subscriptions map[domain.PublicKey]int64
	vaults        map[domain.PublicKey]uint64
	escrows       map[uint64]*escrow
	roots         map[string]domain.Hash
	txCount       int
}

// Option customizes a Book.
type Option func(*Book)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(b *Book) { b.now = now } }

// WithLockPeriod overrides DefaultLockPeriod.
func WithLockPeriod(d time.Duration) Option { return func(b *Book) { b.lockPeriod = d } }

// WithStakeAmount overrides DefaultStakeAmount.
func WithStakeAmount(n uint64) Option { return func(b *Book) { b.stakeAmount = n } }

// NewBook creates an empty book that hashes with h.
func NewBook(h merkle.HashFunc, opts ...Option) *Book {
	b := &Book{
		hasher:        h,
		lockPeriod:    DefaultLockPeriod,
		stakeAmount:   DefaultStakeAmount,
		now:           time.Now,
		balances:      make(map[domain.PublicKey]uint64),
		tokens:        make(map[domain.PublicKey]uint64),
		lamports:      make(map[domain.PublicKey]uint64),
		stakes:        make(map[domain.PublicKey]domain.StakeAccount),
		subscriptions: make(map[domain.PublicKey]int64),
		vaults:        make(map[domain.PublicKey]uint64),
		escrows:       make(map[uint64]*escrow),
		roots:         make(map[string]domain.Hash),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func refKey(ref domain.CommitmentRef) string {
	k := ref.Namespace
	for _, part := range ref.Index {
		k += "/" + hex.EncodeToString(part)
	}
	return k
}

// Fund credits owner with staking-token units and lamports.
func (b *Book) Fund(owner domain.PublicKey, tokens, lamports uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] += tokens
	b.lamports[owner] += lamports
}

// Balance returns owner's free token balance.
func (b *Book) Balance(owner domain.PublicKey) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[owner]
}

// SubscriptionTokens returns owner's subscription token balance.
func (b *Book) SubscriptionTokens(owner domain.PublicKey) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens[owner]
}

// SubscriptionEnd returns the end of owner's subscription in unix seconds.
func (b *Book) SubscriptionEnd(owner domain.PublicKey) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	end, ok := b.subscriptions[owner]
	return end, ok
}

// PublishRoot records the commitment root for ref.
func (b *Book) PublishRoot(ref domain.CommitmentRef, root domain.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roots[refKey(ref)] = root
}

// OpenEscrow locks maker's stake and taker's stake for a matched trade from
// their trading vaults.
func (b *Book) OpenEscrow(tradeID uint64, maker, taker domain.PublicKey, makerStake, takerStake uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.escrows[tradeID]; ok {
		return fmt.Errorf("paper: escrow %d: %w", tradeID, domain.ErrAlreadyExists)
	}
	if b.vaults[maker] < makerStake || b.vaults[taker] < takerStake {
		return fmt.Errorf("paper: escrow %d: %w", tradeID, domain.ErrInsufficientFunds)
	}
	b.vaults[maker] -= makerStake
	b.vaults[taker] -= takerStake
	b.escrows[tradeID] = &escrow{maker: maker, taker: taker, amount: makerStake + takerStake}
	return nil
}

// EscrowWinner returns the recipient of a settled escrow.
func (b *Book) EscrowWinner(tradeID uint64) (domain.PublicKey, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.escrows[tradeID]
	if !ok || !e.settled {
		return domain.PublicKey{}, false
	}
	return e.winner, true
}

// Ledger returns the view of the book signed by authority.
func (b *Book) Ledger(authority domain.PublicKey) *Ledger {
	return &Ledger{book: b, authority: authority}
}

func (b *Book) nextSig(op string) string {
	b.txCount++
	return fmt.Sprintf("paper-%s-%d", op, b.txCount)
}

func (b *Book) rootFor(ref domain.CommitmentRef) (domain.Hash, error) {
	root, ok := b.roots[refKey(ref)]
	if !ok {
		return domain.Hash{}, fmt.Errorf("paper: %s: %w", ref.Namespace, domain.ErrCommitmentNotPublished)
	}
	return root, nil
}

// Ledger is one participant's view of a Book. It implements domain.Ledger.
type Ledger struct {
	book      *Book
	authority domain.PublicKey
}

var _ domain.Ledger = (*Ledger)(nil)

func (l *Ledger) Authority() domain.PublicKey { return l.authority }

func (l *Ledger) StakeAccount(_ context.Context) (domain.StakeAccount, error) {
	l.book.mu.Lock()
	defer l.book.mu.Unlock()
	s, ok := l.book.stakes[l.authority]
	if !ok {
		return domain.StakeAccount{}, fmt.Errorf("paper: %w for %s", domain.ErrNoStake, l.authority)
	}
	return s, nil
}

func (l *Ledger) Stake(_ context.Context) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	amount := b.stakeAmount
	if b.balances[l.authority] < amount {
		return "", fmt.Errorf("paper: stake: %w", domain.ErrInsufficientFunds)
	}
	b.balances[l.authority] -= amount
	s := b.stakes[l.authority]
	s.Owner = l.authority
	s.Amount += amount
	s.UnlockTs = b.now().Add(b.lockPeriod).Unix()
	b.stakes[l.authority] = s
	return b.nextSig("stake"), nil
}

func (l *Ledger) Unstake(_ context.Context) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stakes[l.authority]
	if !ok {
		return "", fmt.Errorf("paper: unstake: %w", domain.ErrNoStake)
	}
	if b.now().Before(s.Unlock()) {
		return "", fmt.Errorf("paper: unstake: %w", domain.ErrStakeLocked)
	}
	b.balances[l.authority] += s.Amount
	delete(b.stakes, l.authority)
	return b.nextSig("unstake"), nil
}

func (l *Ledger) Subscribe(_ context.Context, encryptedToken []byte, endTs int64) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.stakes[l.authority]; !ok {
		return "", fmt.Errorf("paper: subscribe: %w", domain.ErrNoStake)
	}
	if len(encryptedToken) == 0 {
		return "", fmt.Errorf("paper: subscribe: %w: empty token", domain.ErrMalformedPayload)
	}
	b.subscriptions[l.authority] = endTs
	return b.nextSig("subscribe"), nil
}

func (l *Ledger) SubscribeWithToken(_ context.Context, encryptedToken []byte) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(encryptedToken) == 0 {
		return "", fmt.Errorf("paper: subscribe: %w: empty token", domain.ErrMalformedPayload)
	}
	if b.tokens[l.authority] == 0 {
		return "", fmt.Errorf("paper: subscribe with token: %w", domain.ErrInsufficientFunds)
	}
	b.tokens[l.authority]--
	b.subscriptions[l.authority] = b.now().Add(DefaultLockPeriod).Unix()
	return b.nextSig("subscribe_with_token"), nil
}

func (l *Ledger) PurchaseSubscriptionToken(_ context.Context, lamports uint64) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lamports[l.authority] < lamports {
		return "", fmt.Errorf("paper: purchase: %w", domain.ErrInsufficientFunds)
	}
	n := lamports / LamportsPerToken
	if n == 0 {
		return "", fmt.Errorf("paper: purchase: %w: below the price of one token", domain.ErrInsufficientFunds)
	}
	b.lamports[l.authority] -= n * LamportsPerToken
	b.tokens[l.authority] += n
	return b.nextSig("purchase"), nil
}

func (l *Ledger) SellSubscriptionToken(_ context.Context, amount uint64) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens[l.authority] < amount {
		return "", fmt.Errorf("paper: sell: %w", domain.ErrInsufficientFunds)
	}
	b.tokens[l.authority] -= amount
	b.lamports[l.authority] += amount * LamportsPerToken
	return b.nextSig("sell"), nil
}

func (l *Ledger) TradingVaultExists(_ context.Context) (bool, error) {
	l.book.mu.Lock()
	defer l.book.mu.Unlock()
	_, ok := l.book.vaults[l.authority]
	return ok, nil
}

func (l *Ledger) Deposit(_ context.Context, amount uint64) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[l.authority] < amount {
		return "", fmt.Errorf("paper: deposit: %w", domain.ErrInsufficientFunds)
	}
	b.balances[l.authority] -= amount
	b.vaults[l.authority] += amount
	return b.nextSig("deposit"), nil
}

func (l *Ledger) CommitmentPublished(_ context.Context, ref domain.CommitmentRef) (bool, error) {
	l.book.mu.Lock()
	defer l.book.mu.Unlock()
	_, ok := l.book.roots[refKey(ref)]
	return ok, nil
}

func (l *Ledger) ValidateFixture(_ context.Context, v domain.FixtureValidation, ref domain.CommitmentRef) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	root, err := b.rootFor(ref)
	if err != nil {
		return "", err
	}
	if err := merkle.VerifyFixtureProof(v, root, b.hasher); err != nil {
		return "", fmt.Errorf("paper: validate fixture: %w", err)
	}
	return b.nextSig("validate_fixture"), nil
}

func (l *Ledger) ValidateOdds(_ context.Context, v domain.OddsValidation, ref domain.CommitmentRef) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	root, err := b.rootFor(ref)
	if err != nil {
		return "", err
	}
	if err := merkle.VerifyOddsProof(v, root, b.hasher); err != nil {
		return "", fmt.Errorf("paper: validate odds: %w", err)
	}
	return b.nextSig("validate_odds"), nil
}

func (b *Book) checkStat(p domain.StatProof) error {
	root, err := b.rootFor(p.Commitment)
	if err != nil {
		return err
	}
	if err := merkle.VerifyStatProof(p, &root, b.hasher); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) ValidateStat(_ context.Context, p domain.StatProof) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkStat(p); err != nil {
		return "", fmt.Errorf("paper: validate stat: %w", err)
	}
	if err := merkle.CheckPredicate(p); err != nil {
		return "", fmt.Errorf("paper: validate stat: %w", err)
	}
	return b.nextSig("validate_stat"), nil
}

// SettleTrade pays the escrow to the signer when the proof verifies and the
// predicate outcome names the signer as winner. An escrow pays out once.
func (l *Ledger) SettleTrade(_ context.Context, s domain.Settlement) (string, error) {
	b := l.book
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.escrows[s.TradeID]
	if !ok {
		return "", fmt.Errorf("paper: settle trade %d: %w", s.TradeID, domain.ErrNotFound)
	}
	if e.settled {
		return "", fmt.Errorf("paper: settle trade %d: %w", s.TradeID, domain.ErrAlreadySettled)
	}
	if s.Winner != l.authority {
		return "", fmt.Errorf("paper: settle trade %d: %w: winner must sign", s.TradeID, domain.ErrSignatureRejected)
	}
	if err := b.checkStat(s.Proof); err != nil {
		return "", fmt.Errorf("paper: settle trade %d: %w", s.TradeID, err)
	}
	winner := e.maker
	if err := merkle.CheckPredicate(s.Proof); errors.Is(err, domain.ErrPredicateFailed) {
		winner = e.taker
	} else if err != nil {
		return "", fmt.Errorf("paper: settle trade %d: %w", s.TradeID, err)
	}
	if winner != l.authority {
		return "", fmt.Errorf("paper: settle trade %d: %w: signer is not the winner", s.TradeID, domain.ErrPredicateFailed)
	}
	e.settled = true
	e.winner = winner
	b.balances[winner] += e.amount
	return b.nextSig("settle_trade"), nil
}
