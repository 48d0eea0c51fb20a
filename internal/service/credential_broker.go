package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/txoracle/internal/crypto"
	"github.com/alanyoungcy/txoracle/internal/domain"
)

// SubscriptionPeriod is the term of a fresh stake-backed subscription.
const SubscriptionPeriod = 30 * 24 * time.Hour

// Subscription methods.
const (
	SubscribeViaStake = "stake"
	SubscribeViaToken = "token"
)

// SessionProvider is the provider's authentication surface.
type SessionProvider interface {
	GuestLogin(ctx context.Context) (domain.Session, error)
	Activate(ctx context.Context, s domain.Session, txSig, key, iv string) (string, error)
}

// Funding is the outcome of a subscription payment: the transaction that
// proves it and the key material that encrypted the session token.
type Funding struct {
	TxSignature string
	Credential  domain.SessionCredential
	ExpiresAt   time.Time
}

// CredentialBroker turns a guest session and a funding transaction into an
// activated session.
type CredentialBroker struct {
	provider SessionProvider
	ledger   domain.Ledger
	now      func() time.Time
	logger   *slog.Logger
}

// NewCredentialBroker creates a broker that pays with ledger.
func NewCredentialBroker(provider SessionProvider, ledger domain.Ledger, logger *slog.Logger) *CredentialBroker {
	return &CredentialBroker{
		provider: provider,
		ledger:   ledger,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "credential_broker")),
	}
}

// SubscribeViaStake stakes when no stake account exists, then subscribes
// until the active stake's unlock time or for SubscriptionPeriod.
func (b *CredentialBroker) SubscribeViaStake(ctx context.Context, sess domain.Session) (Funding, error) {
	acct, err := b.ledger.StakeAccount(ctx)
	if errors.Is(err, domain.ErrNoStake) {
		sig, serr := b.ledger.Stake(ctx)
		if serr != nil {
			return Funding{}, fmt.Errorf("credential_broker: stake: %w", serr)
		}
		b.logger.InfoContext(ctx, "credential_broker: staked", slog.String("signature", sig))
		acct, err = b.ledger.StakeAccount(ctx)
	}
	if err != nil {
		return Funding{}, fmt.Errorf("credential_broker: stake account: %w", err)
	}

	now := b.now()
	end := now.Add(SubscriptionPeriod)
	if acct.Active(now) {
		end = acct.Unlock()
		b.logger.InfoContext(ctx, "credential_broker: reusing active subscription",
			slog.Time("expires_at", end))
	}

	cred, err := crypto.SealSessionToken(sess.JWT)
	if err != nil {
		return Funding{}, fmt.Errorf("credential_broker: %w", err)
	}
	sig, err := b.ledger.Subscribe(ctx, cred.Ciphertext, end.Unix())
	if err != nil {
		return Funding{}, fmt.Errorf("credential_broker: subscribe: %w", err)
	}
	return Funding{TxSignature: sig, Credential: cred, ExpiresAt: time.Unix(end.Unix(), 0)}, nil
}

// SubscribeViaTokenPayment spends one subscription token.
func (b *CredentialBroker) SubscribeViaTokenPayment(ctx context.Context, sess domain.Session) (Funding, error) {
	cred, err := crypto.SealSessionToken(sess.JWT)
	if err != nil {
		return Funding{}, fmt.Errorf("credential_broker: %w", err)
	}
	sig, err := b.ledger.SubscribeWithToken(ctx, cred.Ciphertext)
	if err != nil {
		return Funding{}, fmt.Errorf("credential_broker: subscribe with token: %w", err)
	}
	return Funding{TxSignature: sig, Credential: cred, ExpiresAt: b.now().Add(SubscriptionPeriod)}, nil
}

// Activate exchanges the funding proof for an API token and returns the
// session carrying it.
func (b *CredentialBroker) Activate(ctx context.Context, sess domain.Session, f Funding) (domain.Session, error) {
	key, iv := crypto.EncodeKeyMaterial(f.Credential)
	token, err := b.provider.Activate(ctx, sess, f.TxSignature, key, iv)
	if err != nil {
		return sess, fmt.Errorf("credential_broker: %w", err)
	}
	sess.APIToken = token
	sess.ExpiresAt = f.ExpiresAt
	return sess, nil
}

// Establish runs the whole flow: guest login, subscription payment by
// method, activation.
func (b *CredentialBroker) Establish(ctx context.Context, method string) (domain.Session, error) {
	sess, err := b.provider.GuestLogin(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("credential_broker: login: %w", err)
	}

	var f Funding
	switch method {
	case SubscribeViaStake, "":
		f, err = b.SubscribeViaStake(ctx, sess)
	case SubscribeViaToken:
		f, err = b.SubscribeViaTokenPayment(ctx, sess)
	default:
		return domain.Session{}, fmt.Errorf("credential_broker: unknown subscription method %q", method)
	}
	if err != nil {
		return domain.Session{}, err
	}

	sess, err = b.Activate(ctx, sess, f)
	if err != nil {
		return domain.Session{}, err
	}
	b.logger.InfoContext(ctx, "credential_broker: session established",
		slog.String("authority", b.ledger.Authority().String()),
		slog.String("method", method),
		slog.Time("expires_at", sess.ExpiresAt),
	)
	return sess, nil
}
