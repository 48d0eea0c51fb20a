package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/offer"
)

// TradingProvider is the matching service's trading surface.
type TradingProvider interface {
	SubmitOffer(ctx context.Context, s domain.Session, o domain.Offer, sig []byte) (uint32, error)
	AcceptOffer(ctx context.Context, s domain.Session, offerID uint32, acceptor domain.PublicKey, sig []byte) error
	CancelOffer(ctx context.Context, s domain.Session, offerID uint32) error
	SignTrade(ctx context.Context, s domain.Session, tradeID uint64, signer domain.PublicKey, sig []byte) error
}

// OfferService handles the offer lifecycle of one participant: signing,
// submission, acceptance, cancellation and co-signing.
type OfferService struct {
	provider    TradingProvider
	signer      offer.Signer
	offers      domain.OfferStore
	trades      domain.TradeStore
	bus         domain.SignalBus
	audit       domain.AuditStore
	participant string
	now         func() time.Time
	logger      *slog.Logger
}

// NewOfferService creates an OfferService. offers, trades, bus and audit may
// be nil, in which case the corresponding side effect is skipped.
func NewOfferService(
	provider TradingProvider,
	signer offer.Signer,
	offers domain.OfferStore,
	trades domain.TradeStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	participant string,
	logger *slog.Logger,
) *OfferService {
	return &OfferService{
		provider:    provider,
		signer:      signer,
		offers:      offers,
		trades:      trades,
		bus:         bus,
		audit:       audit,
		participant: participant,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "offer_service"), slog.String("participant", participant)),
	}
}

// Address is the participant's trading address.
func (s *OfferService) Address() domain.PublicKey { return s.signer.PublicKey() }

// Create signs o and submits it for matching. The trader field is
// overwritten with the signer's address.
func (s *OfferService) Create(ctx context.Context, sess domain.Session, o domain.Offer) (domain.OfferRecord, error) {
	o.Trader = s.signer.PublicKey()
	if err := o.Validate(); err != nil {
		return domain.OfferRecord{}, fmt.Errorf("offer_service: %w", err)
	}
	if o.Expired(s.now()) {
		return domain.OfferRecord{}, fmt.Errorf("offer_service: %w: offer expired at %s",
			domain.ErrInvalidOffer, o.ExpiresAt().UTC().Format(time.RFC3339))
	}

	sig, err := offer.Sign(o, s.signer)
	if err != nil {
		return domain.OfferRecord{}, fmt.Errorf("offer_service: %w", err)
	}

	id, err := s.provider.SubmitOffer(ctx, sess, o, sig)
	if err != nil {
		return domain.OfferRecord{}, fmt.Errorf("offer_service: submit: %w", err)
	}

	now := s.now().UTC()
	rec := domain.OfferRecord{
		ID:          id,
		Offer:       o,
		Signature:   sig,
		Status:      domain.OfferStatusSubmitted,
		Participant: s.participant,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.persistOffer(ctx, rec)
	s.publish(ctx, "offer_submitted", map[string]any{
		"offer_id":   id,
		"fixture_id": o.FixtureID,
		"stake":      o.Stake,
		"odds":       o.Odds,
	})

	s.logger.InfoContext(ctx, "offer_service: offer submitted",
		slog.Uint64("offer_id", uint64(id)),
		slog.Uint64("fixture_id", o.FixtureID),
		slog.String("predicate", o.Predicate.String()),
	)
	return rec, nil
}

// Accept signs the offer id and posts the acceptance. A rejection by the
// matching service is returned as ErrOfferUnavailable; callers racing other
// acceptors should treat it as a normal outcome.
func (s *OfferService) Accept(ctx context.Context, sess domain.Session, id uint32, o domain.Offer) error {
	if o.Trader == s.signer.PublicKey() {
		return fmt.Errorf("offer_service: %w: cannot accept own offer %d", domain.ErrInvalidOffer, id)
	}
	if o.Expired(s.now()) {
		return fmt.Errorf("offer_service: accept %d: %w: expired", id, domain.ErrOfferUnavailable)
	}

	sig := offer.SignAcceptance(id, s.signer)
	if err := s.provider.AcceptOffer(ctx, sess, id, s.signer.PublicKey(), sig); err != nil {
		return fmt.Errorf("offer_service: accept %d: %w", id, err)
	}

	s.persistOffer(ctx, domain.OfferRecord{
		ID:          id,
		Offer:       o,
		Status:      domain.OfferStatusSubmitted,
		Participant: s.participant,
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	})
	s.publish(ctx, "offer_accepted", map[string]any{"offer_id": id})
	s.logger.InfoContext(ctx, "offer_service: offer accepted", slog.Uint64("offer_id", uint64(id)))
	return nil
}

// Cancel withdraws an unmatched offer.
func (s *OfferService) Cancel(ctx context.Context, sess domain.Session, id uint32) error {
	if err := s.provider.CancelOffer(ctx, sess, id); err != nil {
		return fmt.Errorf("offer_service: cancel %d: %w", id, err)
	}
	if s.offers != nil {
		if err := s.offers.UpdateStatus(ctx, id, domain.OfferStatusCancelled); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "offer_service: failed to mark offer cancelled",
				slog.Uint64("offer_id", uint64(id)), slog.String("error", err.Error()))
		}
	}
	s.publish(ctx, "offer_cancelled", map[string]any{"offer_id": id})
	return nil
}

// ExpireOffers marks this participant's submitted offers whose expiration has
// passed as expired and returns how many changed.
func (s *OfferService) ExpireOffers(ctx context.Context) (int, error) {
	if s.offers == nil {
		return 0, nil
	}
	recs, err := s.offers.ListByStatus(ctx, domain.OfferStatusSubmitted, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("offer_service: list submitted offers: %w", err)
	}
	now := s.now()
	expired := 0
	for _, rec := range recs {
		if rec.Participant != s.participant || !rec.Offer.Expired(now) {
			continue
		}
		if err := s.offers.UpdateStatus(ctx, rec.ID, domain.OfferStatusExpired); err != nil {
			return expired, fmt.Errorf("offer_service: expire offer %d: %w", rec.ID, err)
		}
		expired++
		s.publish(ctx, "offer_expired", map[string]any{"offer_id": rec.ID})
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "offer_service: offers expired", slog.Int("count", expired))
	}
	return expired, nil
}

// CoSign signs the transaction bytes of a signing request addressed to this
// participant and returns the signature to the matching service.
func (s *OfferService) CoSign(ctx context.Context, sess domain.Session, req domain.SigningRequestEvent) error {
	if req.Recipient != s.signer.PublicKey() {
		return fmt.Errorf("offer_service: co-sign trade %d: %w: addressed to %s",
			req.TradeID, domain.ErrSignatureRejected, req.Recipient)
	}
	if len(req.Tx) == 0 {
		return fmt.Errorf("offer_service: co-sign trade %d: %w: empty transaction", req.TradeID, domain.ErrMalformedPayload)
	}
	sig := s.signer.Sign(req.Tx)
	if err := s.provider.SignTrade(ctx, sess, req.TradeID, s.signer.PublicKey(), sig); err != nil {
		return fmt.Errorf("offer_service: co-sign trade %d: %w", req.TradeID, err)
	}
	s.logger.InfoContext(ctx, "offer_service: trade co-signed", slog.Uint64("trade_id", req.TradeID))
	return nil
}

// RecordMatch stores a matched trade and marks its offer matched. It returns
// the trade and whether this participant is one of its parties.
func (s *OfferService) RecordMatch(ctx context.Context, ev domain.TradeMatchedEvent) (domain.Trade, bool) {
	trade := domain.Trade{
		ID:        ev.TradeID,
		OfferID:   ev.OfferID,
		Offer:     ev.Offer,
		Maker:     ev.Maker,
		Taker:     ev.Taker,
		Status:    domain.TradeStatusMatched,
		CreatedAt: s.now().UTC(),
	}
	me := s.signer.PublicKey()
	party := trade.Maker == me || trade.Taker == me
	if !party {
		return trade, false
	}

	if s.trades != nil {
		if err := s.trades.Upsert(ctx, trade); err != nil {
			s.logger.WarnContext(ctx, "offer_service: failed to persist trade",
				slog.Uint64("trade_id", trade.ID), slog.String("error", err.Error()))
		}
	}
	if s.offers != nil && ev.OfferID != 0 {
		if err := s.offers.UpdateStatus(ctx, ev.OfferID, domain.OfferStatusMatched); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "offer_service: failed to mark offer matched",
				slog.Uint64("offer_id", uint64(ev.OfferID)), slog.String("error", err.Error()))
		}
	}
	s.publish(ctx, "trade_matched", map[string]any{
		"trade_id": trade.ID,
		"offer_id": trade.OfferID,
		"maker":    trade.Maker.String(),
		"taker":    trade.Taker.String(),
		"escrow":   trade.Escrow(),
	})
	return trade, true
}

func (s *OfferService) persistOffer(ctx context.Context, rec domain.OfferRecord) {
	if s.offers == nil {
		return
	}
	if err := s.offers.Upsert(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "offer_service: failed to persist offer",
			slog.Uint64("offer_id", uint64(rec.ID)), slog.String("error", err.Error()))
	}
}

// publish sends an event on the trading channel and writes the audit entry.
func (s *OfferService) publish(ctx context.Context, event string, detail map[string]any) {
	detail["participant"] = s.participant
	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{"type": event, "data": detail})
		if err := s.bus.Publish(ctx, domain.ChannelTradingEvents, payload); err != nil {
			s.logger.WarnContext(ctx, "offer_service: failed to publish event",
				slog.String("event", event), slog.String("error", err.Error()))
		}
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "offer_service: failed to write audit log",
				slog.String("event", event), slog.String("error", err.Error()))
		}
	}
}
