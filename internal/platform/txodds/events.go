package txodds

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// Stream paths.
const (
	TradingStreamPath = "/api/trading/stream"
	ScoresStreamPath  = "/api/scores/stream"
)

// TradingStream opens the participant's trading event stream.
func (c *Client) TradingStream(ctx context.Context, s domain.Session, opts StreamOptions) (*Stream, error) {
	return c.OpenStream(ctx, s, TradingStreamPath, opts)
}

// ScoresStream opens the live scores stream.
func (c *Client) ScoresStream(ctx context.Context, s domain.Session, opts StreamOptions) (*Stream, error) {
	return c.OpenStream(ctx, s, ScoresStreamPath, opts)
}

type apiNewOffer struct {
	OfferID   uint32   `json:"offerId"`
	Offer     APIOffer `json:"offer"`
	Signature string   `json:"signature"`
}

type apiTradeMatched struct {
	TradeID               uint64            `json:"tradeId"`
	OfferID               uint32            `json:"offerId"`
	Offer                 APIOffer          `json:"offer"`
	Maker                 *domain.PublicKey `json:"maker"`
	Taker                 *domain.PublicKey `json:"taker"`
	AcceptingTraderPubkey *domain.PublicKey `json:"acceptingTraderPubkey"`
}

type apiSigningRequest struct {
	TradeID           uint64           `json:"tradeId"`
	RecipientPubkey   domain.PublicKey `json:"recipientPubkey"`
	PartiallySignedTx string           `json:"partiallySignedTx"`
}

// DecodeTradingEvent converts a trading stream event into its typed form.
// Unknown event names are reported as domain.ErrMalformedPayload.
func DecodeTradingEvent(ev SSEEvent) (domain.TradingEvent, error) {
	out := domain.TradingEvent{ID: ev.ID, Kind: domain.TradingEventKind(ev.Event)}
	switch out.Kind {
	case domain.EventNewOffer:
		var p apiNewOffer
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return out, fmt.Errorf("%w: NewOffer: %w", domain.ErrMalformedPayload, err)
		}
		o, err := p.Offer.ToDomain()
		if err != nil {
			return out, fmt.Errorf("NewOffer %d: %w", p.OfferID, err)
		}
		var sig []byte
		if p.Signature != "" {
			if sig, err = base58.Decode(p.Signature); err != nil {
				return out, fmt.Errorf("%w: NewOffer signature: %w", domain.ErrMalformedPayload, err)
			}
		}
		out.NewOffer = &domain.NewOfferEvent{OfferID: p.OfferID, Offer: o, Signature: sig}

	case domain.EventTradeMatched:
		var p apiTradeMatched
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return out, fmt.Errorf("%w: TradeMatched: %w", domain.ErrMalformedPayload, err)
		}
		o, err := p.Offer.ToDomain()
		if err != nil {
			return out, fmt.Errorf("TradeMatched %d: %w", p.TradeID, err)
		}
		m := &domain.TradeMatchedEvent{TradeID: p.TradeID, OfferID: p.OfferID, Offer: o, Maker: o.Trader}
		if p.Maker != nil {
			m.Maker = *p.Maker
		}
		switch {
		case p.Taker != nil:
			m.Taker = *p.Taker
		case p.AcceptingTraderPubkey != nil:
			m.Taker = *p.AcceptingTraderPubkey
		}
		out.TradeMatched = m

	case domain.EventSigningRequest:
		var p apiSigningRequest
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return out, fmt.Errorf("%w: SigningRequest: %w", domain.ErrMalformedPayload, err)
		}
		tx, err := base64.StdEncoding.DecodeString(p.PartiallySignedTx)
		if err != nil || len(tx) == 0 {
			return out, fmt.Errorf("%w: SigningRequest %d: transaction bytes", domain.ErrMalformedPayload, p.TradeID)
		}
		out.SigningRequest = &domain.SigningRequestEvent{TradeID: p.TradeID, Recipient: p.RecipientPubkey, Tx: tx}

	default:
		return out, fmt.Errorf("%w: unknown trading event %q", domain.ErrMalformedPayload, ev.Event)
	}
	return out, nil
}

// DecodeScoreUpdate converts a scores stream event.
func DecodeScoreUpdate(ev SSEEvent) (domain.ScoreUpdate, error) {
	var u APIScoreUpdate
	if err := json.Unmarshal(ev.Data, &u); err != nil {
		return domain.ScoreUpdate{}, fmt.Errorf("%w: score update: %w", domain.ErrMalformedPayload, err)
	}
	return u.ToDomain(), nil
}
