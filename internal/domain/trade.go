package domain

import "time"

// TradeStatus tracks a matched trade through settlement.
type TradeStatus string

const (
	TradeStatusMatched  TradeStatus = "matched"
	TradeStatusSettling TradeStatus = "settling"
	TradeStatusSettled  TradeStatus = "settled"
	TradeStatusLost     TradeStatus = "lost"
	TradeStatusDisputed TradeStatus = "disputed"
	TradeStatusFailed   TradeStatus = "failed"
)

// Trade is a matched offer with escrowed stake from both sides.
type Trade struct {
	ID              uint64
	OfferID         uint32
	Offer           Offer
	Maker           PublicKey
	Taker           PublicKey
	Status          TradeStatus
	Winner          PublicKey
	SettleSignature string
	CreatedAt       time.Time
	SettledAt       *time.Time
}

// WinnerFor returns the party entitled to the escrow given the predicate
// outcome: the maker when it holds, the taker otherwise.
func (t Trade) WinnerFor(predicateHolds bool) PublicKey {
	if predicateHolds {
		return t.Maker
	}
	return t.Taker
}

// Escrow is the total amount held for the trade.
func (t Trade) Escrow() uint64 {
	return t.Offer.Stake + t.Offer.TakerStake()
}
