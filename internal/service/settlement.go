package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
)

// StatProvider supplies score updates and statistic validation bundles.
type StatProvider interface {
	ScoresSnapshot(ctx context.Context, s domain.Session, fixtureID uint64, asOf time.Time) ([]domain.ScoreUpdate, error)
	StatValidation(ctx context.Context, s domain.Session, fixtureID, seq uint64, statKey uint16) (domain.StatValidation, error)
}

// SettlementOutcome reports what a settlement attempt did.
type SettlementOutcome struct {
	TradeID        uint64
	Winner         domain.PublicKey
	Won            bool
	Value          int64
	Signature      string
	AlreadySettled bool
}

// SettlementCoordinator proves a matched trade's statistic(s) and submits
// settlement when this participant is the winner.
type SettlementCoordinator struct {
	provider StatProvider
	ledger   domain.Ledger
	trades   domain.TradeStore
	locker   domain.LockManager
	archiver domain.Archiver
	bus      domain.SignalBus
	audit    domain.AuditStore
	hasher   merkle.HashFunc
	lockTTL  time.Duration
	verify   bool
	group    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

// SettlementOption configures optional collaborators.
type SettlementOption func(*SettlementCoordinator)

// WithTradeStore records settlement outcomes.
func WithTradeStore(s domain.TradeStore) SettlementOption {
	return func(c *SettlementCoordinator) { c.trades = s }
}

// WithSettlementLock serialises attempts for one trade across processes.
func WithSettlementLock(l domain.LockManager, ttl time.Duration) SettlementOption {
	return func(c *SettlementCoordinator) {
		c.locker = l
		c.lockTTL = ttl
	}
}

// WithArchiver stores every validation bundle used for settlement.
func WithArchiver(a domain.Archiver) SettlementOption {
	return func(c *SettlementCoordinator) { c.archiver = a }
}

// WithEvents publishes outcomes on the bus and the audit log.
func WithEvents(bus domain.SignalBus, audit domain.AuditStore) SettlementOption {
	return func(c *SettlementCoordinator) {
		c.bus = bus
		c.audit = audit
	}
}

// WithLocalVerification recomputes the stat proof chain before submitting.
func WithLocalVerification(h merkle.HashFunc) SettlementOption {
	return func(c *SettlementCoordinator) {
		c.verify = true
		c.hasher = h
	}
}

// NewSettlementCoordinator creates a coordinator bound to ledger's authority.
func NewSettlementCoordinator(provider StatProvider, ledger domain.Ledger, logger *slog.Logger, opts ...SettlementOption) *SettlementCoordinator {
	c := &SettlementCoordinator{
		provider: provider,
		ledger:   ledger,
		hasher:   merkle.SHA256,
		lockTTL:  2 * time.Minute,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "settlement")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectorFor derives the statistic selector from a trade's offer terms.
// A zero seq selects the latest score update at settlement time.
func SelectorFor(t domain.Trade, seq uint64) domain.StatSelector {
	sel := domain.StatSelector{
		FixtureID: t.Offer.FixtureID,
		Seq:       seq,
		StatKey:   t.Offer.StatA.Key,
		Op:        t.Offer.BinaryOp,
	}
	if t.Offer.StatB != nil {
		k := t.Offer.StatB.Key
		sel.StatKeyB = &k
	}
	return sel
}

// Settle settles trade t using the statistics named by sel. Concurrent calls
// for the same trade share one attempt. A trade the ledger reports as already
// settled is a successful outcome.
func (c *SettlementCoordinator) Settle(ctx context.Context, sess domain.Session, t domain.Trade, sel domain.StatSelector) (SettlementOutcome, error) {
	key := strconv.FormatUint(t.ID, 10)
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.settle(ctx, sess, t, sel)
	})
	if shared {
		c.logger.DebugContext(ctx, "settlement: joined in-flight attempt", slog.Uint64("trade_id", t.ID))
	}
	if err != nil {
		return SettlementOutcome{TradeID: t.ID}, err
	}
	return v.(SettlementOutcome), nil
}

func (c *SettlementCoordinator) settle(ctx context.Context, sess domain.Session, t domain.Trade, sel domain.StatSelector) (SettlementOutcome, error) {
	attempt := uuid.NewString()
	log := c.logger.With(slog.Uint64("trade_id", t.ID), slog.String("attempt", attempt))

	if err := checkSelector(t, sel); err != nil {
		return SettlementOutcome{}, fmt.Errorf("settlement: trade %d: %w", t.ID, err)
	}

	if c.locker != nil {
		unlock, err := c.locker.Acquire(ctx, "txoracle:settle:"+strconv.FormatUint(t.ID, 10), c.lockTTL)
		if err != nil {
			return SettlementOutcome{}, fmt.Errorf("settlement: trade %d: lock: %w", t.ID, err)
		}
		defer unlock()
	}

	if c.trades != nil {
		stored, err := c.trades.GetByID(ctx, t.ID)
		if err == nil && stored.Status == domain.TradeStatusSettled {
			log.InfoContext(ctx, "settlement: trade already recorded as settled")
			return SettlementOutcome{
				TradeID:        t.ID,
				Winner:         stored.Winner,
				Won:            stored.Winner == c.ledger.Authority(),
				Signature:      stored.SettleSignature,
				AlreadySettled: true,
			}, nil
		}
	}

	if sel.Seq == 0 {
		seq, err := c.latestSeq(ctx, sess, sel.FixtureID)
		if err != nil {
			return SettlementOutcome{}, fmt.Errorf("settlement: trade %d: %w", t.ID, err)
		}
		sel.Seq = seq
	}

	proof, bundle, err := c.BuildProof(ctx, sess, t.Offer, sel)
	if err != nil {
		return SettlementOutcome{}, c.fail(ctx, t, fmt.Errorf("settlement: trade %d: %w", t.ID, err))
	}

	var statB *domain.StatValue
	if proof.StatB != nil {
		statB = &proof.StatB.Stat
	}
	value, err := merkle.CombinedValue(proof.StatA.Stat, statB, proof.Op)
	if err != nil {
		return SettlementOutcome{}, c.fail(ctx, t, fmt.Errorf("settlement: trade %d: %w", t.ID, err))
	}
	holds := proof.Predicate.Holds(value)
	winner := t.WinnerFor(holds)
	out := SettlementOutcome{TradeID: t.ID, Winner: winner, Value: value}

	log.InfoContext(ctx, "settlement: outcome evaluated",
		slog.Int64("value", value),
		slog.String("predicate", proof.Predicate.String()),
		slog.Bool("maker_wins", holds),
		slog.String("winner", winner.String()),
	)

	if winner != c.ledger.Authority() {
		c.setStatus(ctx, t.ID, domain.TradeStatusLost)
		c.emit(ctx, "trade_lost", map[string]any{"trade_id": t.ID, "winner": winner.String(), "value": value})
		return out, nil
	}
	out.Won = true

	if c.verify {
		if err := merkle.VerifyStatProof(proof, nil, c.hasher); err != nil {
			return out, c.fail(ctx, t, fmt.Errorf("settlement: trade %d: %w", t.ID, err))
		}
	}

	published, err := c.ledger.CommitmentPublished(ctx, proof.Commitment)
	if err != nil {
		return out, c.fail(ctx, t, fmt.Errorf("settlement: trade %d: %w", t.ID, err))
	}
	if !published {
		return out, c.fail(ctx, t, fmt.Errorf("settlement: trade %d: %w", t.ID, domain.ErrCommitmentNotPublished))
	}

	if c.archiver != nil {
		path, err := c.archiver.ArchiveStatValidation(ctx, sel, bundle)
		if err != nil {
			log.WarnContext(ctx, "settlement: failed to archive bundle", slog.String("error", err.Error()))
		} else {
			log.DebugContext(ctx, "settlement: bundle archived", slog.String("path", path))
		}
	}

	c.setStatus(ctx, t.ID, domain.TradeStatusSettling)
	sig, err := c.ledger.SettleTrade(ctx, domain.Settlement{TradeID: t.ID, Winner: winner, Proof: proof})
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		out.AlreadySettled = true
		log.InfoContext(ctx, "settlement: trade already settled")
	case err != nil:
		return out, c.fail(ctx, t, fmt.Errorf("settlement: trade %d: %w", t.ID, err))
	default:
		out.Signature = sig
	}

	if c.trades != nil {
		if err := c.trades.MarkSettled(ctx, t.ID, winner, out.Signature, c.now().UTC()); err != nil {
			log.WarnContext(ctx, "settlement: failed to record settlement", slog.String("error", err.Error()))
		}
	}
	c.emit(ctx, "trade_settled", map[string]any{
		"trade_id":        t.ID,
		"winner":          winner.String(),
		"value":           value,
		"signature":       out.Signature,
		"already_settled": out.AlreadySettled,
	})
	log.InfoContext(ctx, "settlement: trade settled", slog.String("signature", out.Signature))
	return out, nil
}

// BuildProof fetches the validation bundle(s) for sel and assembles the
// settlement proof for offer o. It also returns the primary bundle.
func (c *SettlementCoordinator) BuildProof(ctx context.Context, sess domain.Session, o domain.Offer, sel domain.StatSelector) (domain.StatProof, domain.StatValidation, error) {
	a, err := c.provider.StatValidation(ctx, sess, sel.FixtureID, sel.Seq, sel.StatKey)
	if err != nil {
		return domain.StatProof{}, a, err
	}
	ref, err := merkle.DailyScoresRoot(a.Ts)
	if err != nil {
		return domain.StatProof{}, a, err
	}

	proof := domain.StatProof{
		Ts:            a.Ts,
		Summary:       a.Summary,
		SubTreeProof:  a.SubTreeProof,
		MainTreeProof: a.MainTreeProof,
		Predicate:     o.Predicate,
		StatA:         a.Stat,
		Commitment:    ref,
	}

	if sel.Combined() {
		b, err := c.provider.StatValidation(ctx, sess, sel.FixtureID, sel.Seq, *sel.StatKeyB)
		if err != nil {
			return domain.StatProof{}, a, err
		}
		if b.Stat.EventStatRoot != a.Stat.EventStatRoot || b.Summary != a.Summary {
			return domain.StatProof{}, a, fmt.Errorf("%w: stats %d and %d were proven against different updates",
				domain.ErrProtocolMismatch, sel.StatKey, *sel.StatKeyB)
		}
		proof.StatB = &b.Stat
		proof.Op = sel.Op
	}
	return proof, a, nil
}

func (c *SettlementCoordinator) latestSeq(ctx context.Context, sess domain.Session, fixtureID uint64) (uint64, error) {
	updates, err := c.provider.ScoresSnapshot(ctx, sess, fixtureID, time.Time{})
	if err != nil {
		return 0, err
	}
	var seq uint64
	for _, u := range updates {
		if u.Seq > seq {
			seq = u.Seq
		}
	}
	if seq == 0 {
		return 0, fmt.Errorf("%w: no score updates for fixture %d", domain.ErrMissingPrecondition, fixtureID)
	}
	return seq, nil
}

func checkSelector(t domain.Trade, sel domain.StatSelector) error {
	o := t.Offer
	if sel.FixtureID != o.FixtureID || sel.StatKey != o.StatA.Key {
		return fmt.Errorf("%w: selector does not match offer fixture %d stat %d", domain.ErrInvalidOffer, o.FixtureID, o.StatA.Key)
	}
	if sel.Combined() != o.Combined() || (sel.Op == nil) != (o.BinaryOp == nil) {
		return fmt.Errorf("%w: selector and offer disagree on a second stat", domain.ErrInvalidOffer)
	}
	if o.Combined() && (*sel.StatKeyB != o.StatB.Key || *sel.Op != *o.BinaryOp) {
		return fmt.Errorf("%w: selector second stat does not match offer", domain.ErrInvalidOffer)
	}
	return nil
}

// fail records a failed attempt. A proof the ledger or local verification
// rejects leaves the trade disputed rather than retryable.
func (c *SettlementCoordinator) fail(ctx context.Context, t domain.Trade, err error) error {
	status := domain.TradeStatusFailed
	if errors.Is(err, domain.ErrProtocolMismatch) {
		status = domain.TradeStatusDisputed
	}
	c.setStatus(ctx, t.ID, status)
	c.emit(ctx, "settlement_failed", map[string]any{"trade_id": t.ID, "error": err.Error()})
	c.logger.ErrorContext(ctx, "settlement: attempt failed",
		slog.Uint64("trade_id", t.ID), slog.String("error", err.Error()))
	return err
}

func (c *SettlementCoordinator) setStatus(ctx context.Context, id uint64, status domain.TradeStatus) {
	if c.trades == nil {
		return
	}
	if err := c.trades.UpdateStatus(ctx, id, status); err != nil && !errors.Is(err, domain.ErrNotFound) {
		c.logger.WarnContext(ctx, "settlement: failed to update trade status",
			slog.Uint64("trade_id", id), slog.String("status", string(status)), slog.String("error", err.Error()))
	}
}

func (c *SettlementCoordinator) emit(ctx context.Context, event string, detail map[string]any) {
	if c.bus != nil {
		payload, _ := json.Marshal(map[string]any{"type": event, "data": detail})
		if err := c.bus.Publish(ctx, domain.ChannelSettlements, payload); err != nil {
			c.logger.WarnContext(ctx, "settlement: failed to publish event", slog.String("error", err.Error()))
		}
	}
	if c.audit != nil {
		if err := c.audit.Log(ctx, event, detail); err != nil {
			c.logger.WarnContext(ctx, "settlement: failed to write audit log", slog.String("error", err.Error()))
		}
	}
}
