package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// legacyStakeProber is implemented by ledgers that can look up the
// deprecated owner-only stake account.
type legacyStakeProber interface {
	LegacyStakeExists(ctx context.Context) (bool, error)
}

// TokenStatus summarises a participant's token position.
type TokenStatus struct {
	Authority    domain.PublicKey
	Staked       bool
	Stake        domain.StakeAccount
	Locked       bool
	TradingVault bool
	LegacyStake  bool
}

// TokenService wraps the ledger's staking, subscription token and trading
// vault operations.
type TokenService struct {
	ledger domain.Ledger
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService creates a TokenService for ledger's authority.
func NewTokenService(ledger domain.Ledger, logger *slog.Logger) *TokenService {
	return &TokenService{
		ledger: ledger,
		now:    time.Now,
		logger: logger.With(slog.String("component", "tokens")),
	}
}

// Stake stakes the program's fixed amount.
func (s *TokenService) Stake(ctx context.Context) (string, error) {
	sig, err := s.ledger.Stake(ctx)
	if err != nil {
		return "", fmt.Errorf("tokens: stake: %w", err)
	}
	s.logger.InfoContext(ctx, "tokens: staked", slog.String("signature", sig))
	return sig, nil
}

// Unstake returns the stake once it has unlocked.
func (s *TokenService) Unstake(ctx context.Context) (string, error) {
	sig, err := s.ledger.Unstake(ctx)
	if err != nil {
		return "", fmt.Errorf("tokens: unstake: %w", err)
	}
	s.logger.InfoContext(ctx, "tokens: unstaked", slog.String("signature", sig))
	return sig, nil
}

// Purchase buys subscription tokens for lamports.
func (s *TokenService) Purchase(ctx context.Context, lamports uint64) (string, error) {
	if lamports == 0 {
		return "", fmt.Errorf("tokens: purchase: amount must be positive")
	}
	sig, err := s.ledger.PurchaseSubscriptionToken(ctx, lamports)
	if err != nil {
		return "", fmt.Errorf("tokens: purchase: %w", err)
	}
	s.logger.InfoContext(ctx, "tokens: subscription tokens purchased",
		slog.Uint64("lamports", lamports), slog.String("signature", sig))
	return sig, nil
}

// Sell sells subscription tokens back to the treasury.
func (s *TokenService) Sell(ctx context.Context, amount uint64) (string, error) {
	if amount == 0 {
		return "", fmt.Errorf("tokens: sell: amount must be positive")
	}
	sig, err := s.ledger.SellSubscriptionToken(ctx, amount)
	if err != nil {
		return "", fmt.Errorf("tokens: sell: %w", err)
	}
	s.logger.InfoContext(ctx, "tokens: subscription tokens sold",
		slog.Uint64("amount", amount), slog.String("signature", sig))
	return sig, nil
}

// Deposit funds the trading vault. It is an optional step: an existing vault
// or insufficient funds skip the deposit and return an empty signature.
func (s *TokenService) Deposit(ctx context.Context, amount uint64) (string, error) {
	exists, err := s.ledger.TradingVaultExists(ctx)
	if err != nil {
		return "", fmt.Errorf("tokens: deposit: %w", err)
	}
	if exists {
		s.logger.InfoContext(ctx, "tokens: trading vault already funded, skipping deposit")
		return "", nil
	}
	sig, err := s.ledger.Deposit(ctx, amount)
	if errors.Is(err, domain.ErrInsufficientFunds) {
		s.logger.WarnContext(ctx, "tokens: insufficient funds, skipping deposit",
			slog.Uint64("amount", amount))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tokens: deposit: %w", err)
	}
	s.logger.InfoContext(ctx, "tokens: deposited", slog.Uint64("amount", amount), slog.String("signature", sig))
	return sig, nil
}

// Status reports stake, vault and legacy-account state.
func (s *TokenService) Status(ctx context.Context) (TokenStatus, error) {
	st := TokenStatus{Authority: s.ledger.Authority()}

	acct, err := s.ledger.StakeAccount(ctx)
	switch {
	case errors.Is(err, domain.ErrNoStake):
	case err != nil:
		return st, fmt.Errorf("tokens: status: %w", err)
	default:
		st.Staked = true
		st.Stake = acct
		st.Locked = acct.Active(s.now())
	}

	if st.TradingVault, err = s.ledger.TradingVaultExists(ctx); err != nil {
		return st, fmt.Errorf("tokens: status: %w", err)
	}

	if p, ok := s.ledger.(legacyStakeProber); ok {
		legacy, err := p.LegacyStakeExists(ctx)
		if err != nil {
			return st, fmt.Errorf("tokens: status: %w", err)
		}
		st.LegacyStake = legacy
		if legacy {
			s.logger.WarnContext(ctx, "tokens: deprecated owner-only stake account exists",
				slog.String("authority", st.Authority.String()))
		}
	}
	return st, nil
}
