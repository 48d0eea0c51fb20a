package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OddsScale is the fixed-point scale of Offer.Odds (2000 means decimal odds 2.0).
const OddsScale = 1000

// Comparison is the predicate comparison operator. The ordinals are the ledger
// program's enum discriminants.
type Comparison uint8

const (
	ComparisonGreaterThan Comparison = 0
	ComparisonLessThan    Comparison = 1
	ComparisonEqualTo     Comparison = 2
)

func (c Comparison) String() string {
	switch c {
	case ComparisonGreaterThan:
		return "GreaterThan"
	case ComparisonLessThan:
		return "LessThan"
	case ComparisonEqualTo:
		return "EqualTo"
	default:
		return fmt.Sprintf("Comparison(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the known discriminants.
func (c Comparison) Valid() bool { return c <= ComparisonEqualTo }

// Holds applies the comparison as "value <op> threshold".
func (c Comparison) Holds(value, threshold int64) bool {
	switch c {
	case ComparisonGreaterThan:
		return value > threshold
	case ComparisonLessThan:
		return value < threshold
	case ComparisonEqualTo:
		return value == threshold
	default:
		return false
	}
}

// ParseComparison accepts the variant name in any case, the tagged-object key
// form ("greaterThan") or a symbol (">", "<", "=").
func ParseComparison(s string) (Comparison, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "greaterthan", "gt", ">":
		return ComparisonGreaterThan, nil
	case "lessthan", "lt", "<":
		return ComparisonLessThan, nil
	case "equalto", "eq", "=", "==":
		return ComparisonEqualTo, nil
	default:
		return 0, fmt.Errorf("%w: unknown comparison %q", ErrInvalidOffer, s)
	}
}

func (c Comparison) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: comparison %d", ErrInvalidOffer, uint8(c))
	}
	return json.Marshal(variantJSON{Type: c.String()})
}

func (c *Comparison) UnmarshalJSON(data []byte) error {
	name, err := decodeVariant(data)
	if err != nil {
		return err
	}
	parsed, err := ParseComparison(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// BinaryOp combines two statistics before the predicate is applied.
type BinaryOp uint8

const (
	BinaryOpAdd      BinaryOp = 0
	BinaryOpSubtract BinaryOp = 1
)

func (op BinaryOp) String() string {
	switch op {
	case BinaryOpAdd:
		return "Add"
	case BinaryOpSubtract:
		return "Subtract"
	default:
		return fmt.Sprintf("BinaryOp(%d)", uint8(op))
	}
}

// Valid reports whether op is one of the known discriminants.
func (op BinaryOp) Valid() bool { return op <= BinaryOpSubtract }

// Apply combines a and b.
func (op BinaryOp) Apply(a, b int64) (int64, error) {
	switch op {
	case BinaryOpAdd:
		return a + b, nil
	case BinaryOpSubtract:
		return a - b, nil
	default:
		return 0, fmt.Errorf("%w: binary op %d", ErrInvalidOffer, uint8(op))
	}
}

// ParseBinaryOp accepts "Add"/"Subtract" in any case or "+"/"-".
func ParseBinaryOp(s string) (BinaryOp, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add", "+":
		return BinaryOpAdd, nil
	case "subtract", "sub", "-":
		return BinaryOpSubtract, nil
	default:
		return 0, fmt.Errorf("%w: unknown binary op %q", ErrInvalidOffer, s)
	}
}

func (op BinaryOp) MarshalJSON() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: binary op %d", ErrInvalidOffer, uint8(op))
	}
	return json.Marshal(variantJSON{Type: op.String()})
}

func (op *BinaryOp) UnmarshalJSON(data []byte) error {
	name, err := decodeVariant(data)
	if err != nil {
		return err
	}
	parsed, err := ParseBinaryOp(name)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

type variantJSON struct {
	Type string `json:"type"`
}

// decodeVariant reads an enum variant name from {"type":"X"}, {"x":{}} or "X".
func decodeVariant(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("%w: enum variant %s", ErrMalformedPayload, string(data))
	}
	if raw, ok := obj["type"]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: enum variant %s", ErrMalformedPayload, string(data))
		}
		return s, nil
	}
	if len(obj) != 1 {
		return "", fmt.Errorf("%w: enum variant %s", ErrMalformedPayload, string(data))
	}
	for k := range obj {
		s = k
	}
	return s, nil
}

// Predicate is evaluated against a single statistic or the combination of two.
type Predicate struct {
	Threshold  uint32
	Comparison Comparison
}

// Holds reports whether value satisfies the predicate.
func (p Predicate) Holds(value int64) bool {
	return p.Comparison.Holds(value, int64(p.Threshold))
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s(%d)", p.Comparison, p.Threshold)
}

// StatTerm names a statistic by its provider key.
type StatTerm struct {
	Key uint16 `json:"key"`
}

// Offer is a predicate-based wager term sheet. It must not be mutated after
// it has been signed.
type Offer struct {
	FixtureID  uint64
	Period     uint8
	Predicate  Predicate
	BinaryOp   *BinaryOp
	StatA      StatTerm
	StatB      *StatTerm
	Stake      uint64
	Odds       uint32
	Expiration uint64 // unix ms
	Trader     PublicKey
}

// Validate checks the structural invariants of the offer.
func (o Offer) Validate() error {
	if (o.StatB == nil) != (o.BinaryOp == nil) {
		return fmt.Errorf("%w: statB and binaryOp must be both present or both absent", ErrInvalidOffer)
	}
	if !o.Predicate.Comparison.Valid() {
		return fmt.Errorf("%w: comparison %d", ErrInvalidOffer, uint8(o.Predicate.Comparison))
	}
	if o.BinaryOp != nil && !o.BinaryOp.Valid() {
		return fmt.Errorf("%w: binary op %d", ErrInvalidOffer, uint8(*o.BinaryOp))
	}
	if o.Trader.IsZero() {
		return fmt.Errorf("%w: trader address is empty", ErrInvalidOffer)
	}
	return nil
}

// Combined reports whether the offer is evaluated over two statistics.
func (o Offer) Combined() bool { return o.StatB != nil }

// ExpiresAt returns the expiration as a time.Time.
func (o Offer) ExpiresAt() time.Time { return time.UnixMilli(int64(o.Expiration)) }

// Expired reports whether the offer can no longer be matched at now.
func (o Offer) Expired(now time.Time) bool { return !now.Before(o.ExpiresAt()) }

// DecimalOdds returns the odds as a decimal multiplier.
func (o Offer) DecimalOdds() decimal.Decimal {
	return decimal.NewFromInt(int64(o.Odds)).Div(decimal.NewFromInt(OddsScale))
}

// Payout is the total amount returned to the maker when the predicate holds.
func (o Offer) Payout() decimal.Decimal {
	return decimal.NewFromInt(int64(o.Stake)).Mul(o.DecimalOdds())
}

// TakerStake is the amount the acceptor escrows against the maker's stake,
// rounded down to whole token units.
func (o Offer) TakerStake() uint64 {
	counter := o.Payout().Sub(decimal.NewFromInt(int64(o.Stake)))
	if counter.Sign() <= 0 {
		return 0
	}
	return uint64(counter.Floor().IntPart())
}

// OfferStatus tracks the offer lifecycle.
type OfferStatus string

const (
	OfferStatusDraft     OfferStatus = "draft"
	OfferStatusSigned    OfferStatus = "signed"
	OfferStatusSubmitted OfferStatus = "submitted"
	OfferStatusMatched   OfferStatus = "matched"
	OfferStatusCancelled OfferStatus = "cancelled"
	OfferStatusExpired   OfferStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferStatusMatched, OfferStatusCancelled, OfferStatusExpired:
		return true
	}
	return false
}

// OfferRecord is an offer as tracked by this participant.
type OfferRecord struct {
	ID          uint32
	Offer       Offer
	Signature   []byte
	Status      OfferStatus
	Participant string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
