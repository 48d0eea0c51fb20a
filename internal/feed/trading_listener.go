// Package feed runs the long-lived provider streams: one trading listener per
// participant and the scores relay.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/executor"
	"github.com/alanyoungcy/txoracle/internal/offer"
	"github.com/alanyoungcy/txoracle/internal/platform/txodds"
	"github.com/alanyoungcy/txoracle/internal/service"
)

// TradingSource opens a participant's trading stream.
type TradingSource interface {
	TradingStream(ctx context.Context, s domain.Session, opts txodds.StreamOptions) (*txodds.Stream, error)
}

// OfferReactor performs the participant's offer-side reactions.
type OfferReactor interface {
	Address() domain.PublicKey
	Accept(ctx context.Context, sess domain.Session, id uint32, o domain.Offer) error
	CoSign(ctx context.Context, sess domain.Session, req domain.SigningRequestEvent) error
	RecordMatch(ctx context.Context, ev domain.TradeMatchedEvent) (domain.Trade, bool)
	ExpireOffers(ctx context.Context) (int, error)
}

// TradeSettler settles a matched trade.
type TradeSettler interface {
	Settle(ctx context.Context, sess domain.Session, t domain.Trade, sel domain.StatSelector) (service.SettlementOutcome, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AcceptPolicy decides which announced offers a participant accepts.
type AcceptPolicy struct {
	Enabled    bool
	MaxStake   uint64   // 0 means no limit
	MinOdds    uint32   // 0 means no limit
	FixtureIDs []uint64 // empty means every fixture
}

// Allows reports whether ev should be accepted by self at now and, when not,
// why.
func (p AcceptPolicy) Allows(ev domain.NewOfferEvent, self domain.PublicKey, now time.Time) (bool, string) {
	o := ev.Offer
	switch {
	case !p.Enabled:
		return false, "auto-accept disabled"
	case o.Trader == self:
		return false, "own offer"
	case o.Expired(now):
		return false, "expired"
	case p.MaxStake > 0 && o.TakerStake() > p.MaxStake:
		return false, "stake above limit"
	case p.MinOdds > 0 && o.Odds < p.MinOdds:
		return false, "odds below limit"
	}
	if len(p.FixtureIDs) > 0 {
		found := false
		for _, id := range p.FixtureIDs {
			if id == o.FixtureID {
				found = true
				break
			}
		}
		if !found {
			return false, "fixture not followed"
		}
	}
	if len(ev.Signature) > 0 && !offer.Verify(o, ev.Signature, o.Trader) {
		return false, "maker signature invalid"
	}
	return true, ""
}

// SessionRenewer returns a freshly activated session.
type SessionRenewer func(ctx context.Context) (domain.Session, error)

// errSessionExpiring ends a stream whose session is about to lapse.
var errSessionExpiring = errors.New("session expiring")

// ListenerConfig configures one participant's reactions.
type ListenerConfig struct {
	Name       string
	Accept     AcceptPolicy
	AutoSettle bool
	// SettleSeq pins the score update proven at settlement; zero uses the
	// latest update.
	SettleSeq uint64
	CoSign    bool
	Stream    txodds.StreamOptions
	DedupTTL  time.Duration
	// RenewBefore is how long before the session expires it is renewed.
	RenewBefore time.Duration
}

// TradingListener consumes one participant's trading stream and reacts to
// each event in order. Reactions of a listener never overlap.
type TradingListener struct {
	cfg      ListenerConfig
	source   TradingSource
	session  domain.Session
	offers   OfferReactor
	settler  TradeSettler
	bus      domain.SignalBus
	notifier Notifier
	dedup    *executor.Dedup
	renew    SessionRenewer
	// fresh is set between a renewal and the first event on the new stream.
	fresh  bool
	now    func() time.Time
	logger *slog.Logger
}

// NewTradingListener creates a listener. settler, bus and notifier may be nil.
func NewTradingListener(
	cfg ListenerConfig,
	source TradingSource,
	session domain.Session,
	offers OfferReactor,
	settler TradeSettler,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *TradingListener {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = 10 * time.Minute
	}
	return &TradingListener{
		cfg:      cfg,
		source:   source,
		session:  session,
		offers:   offers,
		settler:  settler,
		bus:      bus,
		notifier: notifier,
		dedup:    executor.NewDedup(cfg.DedupTTL),
		now:      time.Now,
		logger: logger.With(
			slog.String("component", "trading_listener"),
			slog.String("participant", cfg.Name),
		),
	}
}

// RenewWith lets the listener replace its session before it expires and
// once after the provider rejects it.
func (l *TradingListener) RenewWith(renew SessionRenewer) { l.renew = renew }

// Run consumes the stream until ctx is cancelled, returning nil in that case.
// A stream that ends for any other reason is returned as an error wrapping
// domain.ErrStreamDisruption, or domain.ErrUnauthorized when the session was
// rejected and could not be renewed.
func (l *TradingListener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "trading listener started",
		slog.String("address", l.offers.Address().String()))
	defer l.logger.Info("trading listener stopped")

	cleanup := time.NewTicker(l.cfg.DedupTTL)
	defer cleanup.Stop()

	for {
		err := l.consume(ctx, cleanup.C)
		if err == nil {
			return nil
		}
		renewable := l.renew != nil && (errors.Is(err, errSessionExpiring) ||
			(errors.Is(err, domain.ErrUnauthorized) && !l.fresh))
		if renewable {
			if rerr := l.renewSession(ctx, err); rerr != nil {
				err = rerr
			} else {
				continue
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		l.alert(ctx, "stream_disrupted", "Trading stream disrupted",
			fmt.Sprintf("%s: %v", l.cfg.Name, err))
		return fmt.Errorf("feed: %s: %w", l.cfg.Name, err)
	}
}

// consume runs one stream connection. It returns nil when ctx ends.
func (l *TradingListener) consume(ctx context.Context, cleanup <-chan time.Time) error {
	var expiring <-chan time.Time
	if l.renew != nil && !l.session.ExpiresAt.IsZero() {
		wait := l.session.ExpiresAt.Add(-l.cfg.RenewBefore).Sub(l.now())
		switch {
		case wait > 0:
			timer := time.NewTimer(wait)
			defer timer.Stop()
			expiring = timer.C
		case !l.fresh:
			return errSessionExpiring
		}
	}

	stream, err := l.source.TradingStream(ctx, l.session, l.cfg.Stream)
	if err != nil {
		return fmt.Errorf("open trading stream: %w", err)
	}
	defer stream.Close()

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanup:
			l.dedup.Cleanup()
			if _, err := l.offers.ExpireOffers(ctx); err != nil {
				l.logger.WarnContext(ctx, "trading listener: offer expiry sweep failed", slog.String("error", err.Error()))
			}
		case <-expiring:
			return errSessionExpiring
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := stream.Err(); err != nil {
					return err
				}
				return domain.ErrStreamDisruption
			}
			l.fresh = false
			l.handle(ctx, ev)
		}
	}
}

func (l *TradingListener) renewSession(ctx context.Context, cause error) error {
	sess, err := l.renew(ctx)
	if err != nil {
		return fmt.Errorf("renew session after %v: %w", cause, err)
	}
	l.session = sess
	l.fresh = true
	l.logger.InfoContext(ctx, "trading listener: session renewed",
		slog.String("reason", cause.Error()),
		slog.Time("expires_at", sess.ExpiresAt),
	)
	return nil
}

func (l *TradingListener) handle(ctx context.Context, raw txodds.SSEEvent) {
	ev, err := txodds.DecodeTradingEvent(raw)
	if err != nil {
		l.logger.WarnContext(ctx, "trading listener: undecodable event",
			slog.String("event", raw.Event), slog.String("id", raw.ID), slog.String("error", err.Error()))
		return
	}
	if l.dedup.IsDuplicate(dedupKey(ev)) {
		l.logger.DebugContext(ctx, "trading listener: duplicate event", slog.String("id", ev.ID))
		return
	}
	l.publish(ctx, ev)

	switch ev.Kind {
	case domain.EventNewOffer:
		l.onNewOffer(ctx, *ev.NewOffer)
	case domain.EventTradeMatched:
		l.onTradeMatched(ctx, *ev.TradeMatched)
	case domain.EventSigningRequest:
		l.onSigningRequest(ctx, *ev.SigningRequest)
	}
}

func dedupKey(ev domain.TradingEvent) string {
	switch ev.Kind {
	case domain.EventNewOffer:
		return fmt.Sprintf("%s:%d", ev.Kind, ev.NewOffer.OfferID)
	case domain.EventTradeMatched:
		return fmt.Sprintf("%s:%d", ev.Kind, ev.TradeMatched.TradeID)
	case domain.EventSigningRequest:
		return fmt.Sprintf("%s:%d:%s", ev.Kind, ev.SigningRequest.TradeID, ev.ID)
	}
	return ev.ID
}

func (l *TradingListener) onNewOffer(ctx context.Context, ev domain.NewOfferEvent) {
	ok, reason := l.cfg.Accept.Allows(ev, l.offers.Address(), l.now())
	if !ok {
		l.logger.DebugContext(ctx, "trading listener: offer skipped",
			slog.Uint64("offer_id", uint64(ev.OfferID)), slog.String("reason", reason))
		return
	}
	err := l.offers.Accept(ctx, l.session, ev.OfferID, ev.Offer)
	switch {
	case errors.Is(err, domain.ErrOfferUnavailable):
		// another participant won the race
		l.logger.InfoContext(ctx, "trading listener: acceptance rejected by matching service",
			slog.Uint64("offer_id", uint64(ev.OfferID)))
	case err != nil:
		l.logger.ErrorContext(ctx, "trading listener: accept failed",
			slog.Uint64("offer_id", uint64(ev.OfferID)), slog.String("error", err.Error()))
	}
}

func (l *TradingListener) onTradeMatched(ctx context.Context, ev domain.TradeMatchedEvent) {
	trade, party := l.offers.RecordMatch(ctx, ev)
	if !party {
		return
	}
	l.logger.InfoContext(ctx, "trading listener: trade matched",
		slog.Uint64("trade_id", trade.ID),
		slog.Uint64("offer_id", uint64(trade.OfferID)),
		slog.Uint64("escrow", trade.Escrow()),
	)
	l.alert(ctx, "trade_matched", "Trade matched",
		fmt.Sprintf("%s: trade %d on fixture %d, escrow %d", l.cfg.Name, trade.ID, trade.Offer.FixtureID, trade.Escrow()))

	if !l.cfg.AutoSettle || l.settler == nil {
		return
	}
	out, err := l.settler.Settle(ctx, l.session, trade, service.SelectorFor(trade, l.cfg.SettleSeq))
	if err != nil {
		l.logger.ErrorContext(ctx, "trading listener: settlement failed",
			slog.Uint64("trade_id", trade.ID), slog.String("error", err.Error()))
		l.alert(ctx, "settlement_failed", "Settlement failed",
			fmt.Sprintf("%s: trade %d: %v", l.cfg.Name, trade.ID, err))
		return
	}
	if out.Won {
		l.alert(ctx, "trade_settled", "Trade settled",
			fmt.Sprintf("%s: trade %d won (value %d) %s", l.cfg.Name, trade.ID, out.Value, out.Signature))
	}
}

func (l *TradingListener) onSigningRequest(ctx context.Context, ev domain.SigningRequestEvent) {
	if !l.cfg.CoSign || ev.Recipient != l.offers.Address() {
		return
	}
	if err := l.offers.CoSign(ctx, l.session, ev); err != nil {
		l.logger.ErrorContext(ctx, "trading listener: co-sign failed",
			slog.Uint64("trade_id", ev.TradeID), slog.String("error", err.Error()))
	}
}

func (l *TradingListener) publish(ctx context.Context, ev domain.TradingEvent) {
	if l.bus == nil {
		return
	}
	var data any
	switch ev.Kind {
	case domain.EventNewOffer:
		data = map[string]any{"offer_id": ev.NewOffer.OfferID, "fixture_id": ev.NewOffer.Offer.FixtureID, "trader": ev.NewOffer.Offer.Trader}
	case domain.EventTradeMatched:
		data = map[string]any{"trade_id": ev.TradeMatched.TradeID, "maker": ev.TradeMatched.Maker, "taker": ev.TradeMatched.Taker}
	case domain.EventSigningRequest:
		data = map[string]any{"trade_id": ev.SigningRequest.TradeID, "recipient": ev.SigningRequest.Recipient}
	}
	payload, err := json.Marshal(map[string]any{
		"type":        string(ev.Kind),
		"id":          ev.ID,
		"participant": l.cfg.Name,
		"data":        data,
	})
	if err != nil {
		return
	}
	if err := l.bus.Publish(ctx, domain.ChannelTradingEvents, payload); err != nil {
		l.logger.WarnContext(ctx, "trading listener: failed to publish event", slog.String("error", err.Error()))
	}
}

func (l *TradingListener) alert(ctx context.Context, event, title, message string) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Notify(ctx, event, title, message); err != nil {
		l.logger.WarnContext(ctx, "trading listener: notification failed", slog.String("error", err.Error()))
	}
}
