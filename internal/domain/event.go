package domain

// TradingEventKind names a trading stream event.
type TradingEventKind string

const (
	EventNewOffer       TradingEventKind = "NewOffer"
	EventTradeMatched   TradingEventKind = "TradeMatched"
	EventSigningRequest TradingEventKind = "SigningRequest"
)

// TradingEvent is one decoded trading stream event. Exactly one of the
// payload pointers is set, matching Kind.
type TradingEvent struct {
	ID             string
	Kind           TradingEventKind
	NewOffer       *NewOfferEvent
	TradeMatched   *TradeMatchedEvent
	SigningRequest *SigningRequestEvent
}

// NewOfferEvent announces a signed offer open for acceptance.
type NewOfferEvent struct {
	OfferID   uint32
	Offer     Offer
	Signature []byte
}

// TradeMatchedEvent announces a trade created from an accepted offer.
type TradeMatchedEvent struct {
	TradeID uint64
	OfferID uint32
	Offer   Offer
	Maker   PublicKey
	Taker   PublicKey
}

// SigningRequestEvent asks a participant to co-sign a transaction.
type SigningRequestEvent struct {
	TradeID   uint64
	Recipient PublicKey
	Tx        []byte
}

// Bus channels.
const (
	ChannelTradingEvents = "txoracle:trading"
	ChannelScores        = "txoracle:scores"
	ChannelSettlements   = "txoracle:settlements"
)
