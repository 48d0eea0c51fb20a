package txodds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

var offerAcceptedRe = regexp.MustCompile(`Offer (\d+) accepted`)

// SubmitOffer posts a signed offer and returns the offer id assigned by the
// matching service.
func (c *Client) SubmitOffer(ctx context.Context, s domain.Session, o domain.Offer, sig []byte) (uint32, error) {
	body := map[string]any{
		"offer":     NewAPIOffer(o),
		"signature": base58.Encode(sig),
	}
	resp, err := c.doRequest(ctx, s, http.MethodPost, "/api/trading/offer", nil, body)
	if err != nil {
		return 0, fmt.Errorf("txodds: submit offer: %w", err)
	}
	id, err := parseOfferID(resp)
	if err != nil {
		return 0, fmt.Errorf("txodds: submit offer: %w", err)
	}
	return id, nil
}

// parseOfferID reads the id from a plain-text acknowledgement or from a
// JSON body carrying offerId.
func parseOfferID(body []byte) (uint32, error) {
	text := parseToken(body)
	if m := offerAcceptedRe.FindStringSubmatch(text); m != nil {
		id, err := strconv.ParseUint(m[1], 10, 32)
		if err == nil {
			return uint32(id), nil
		}
	}
	var obj struct {
		OfferID *uint32 `json:"offerId"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && obj.OfferID != nil {
		return *obj.OfferID, nil
	}
	return 0, fmt.Errorf("%w: unrecognised offer acknowledgement %q", domain.ErrMalformedPayload, strings.TrimSpace(string(body)))
}

// AcceptOffer posts an acceptance signed over the 4-byte offer id.
func (c *Client) AcceptOffer(ctx context.Context, s domain.Session, offerID uint32, acceptor domain.PublicKey, sig []byte) error {
	body := map[string]any{
		"offerId":               offerID,
		"acceptingTraderPubkey": acceptor.String(),
		"signature":             base58.Encode(sig),
	}
	if _, err := c.doRequest(ctx, s, http.MethodPost, "/api/trading/accept", nil, body); err != nil {
		return fmt.Errorf("txodds: accept offer %d: %w", offerID, classifyAccept(err))
	}
	return nil
}

// CancelOffer withdraws an unmatched offer.
func (c *Client) CancelOffer(ctx context.Context, s domain.Session, offerID uint32) error {
	body := map[string]any{"offerId": offerID}
	if _, err := c.doRequest(ctx, s, http.MethodPost, "/api/trading/offer/cancel", nil, body); err != nil {
		return fmt.Errorf("txodds: cancel offer %d: %w", offerID, err)
	}
	return nil
}

// SignTrade returns a co-signature for a trade transaction.
func (c *Client) SignTrade(ctx context.Context, s domain.Session, tradeID uint64, signer domain.PublicKey, sig []byte) error {
	body := map[string]any{
		"tradeId":   tradeID,
		"signer":    signer.String(),
		"signature": base58.Encode(sig),
	}
	if _, err := c.doRequest(ctx, s, http.MethodPost, "/api/trading/sign", nil, body); err != nil {
		return fmt.Errorf("txodds: sign trade %d: %w", tradeID, err)
	}
	return nil
}
