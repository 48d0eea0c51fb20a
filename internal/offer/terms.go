package offer

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// TermSheet is the human-edited form of an offer.
//
//	fixture_id: 17271370
//	period: 4
//	stat_a: 1
//	stat_b: 2          # optional, requires op
//	op: subtract       # optional, requires stat_b
//	comparison: greater_than
//	threshold: 11
//	stake: 1
//	odds: 2000
//	expires_in: 2h
type TermSheet struct {
	FixtureID  uint64        `yaml:"fixture_id"`
	Period     uint8         `yaml:"period"`
	StatA      uint16        `yaml:"stat_a"`
	StatB      *uint16       `yaml:"stat_b"`
	Op         string        `yaml:"op"`
	Comparison string        `yaml:"comparison"`
	Threshold  uint32        `yaml:"threshold"`
	Stake      uint64        `yaml:"stake"`
	Odds       uint32        `yaml:"odds"`
	ExpiresIn  time.Duration `yaml:"expires_in"`
	Expiration uint64        `yaml:"expiration"` // absolute unix ms; wins over expires_in
}

// LoadTermSheet reads a YAML term sheet from path.
func LoadTermSheet(path string) (TermSheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TermSheet{}, fmt.Errorf("offer: read term sheet: %w", err)
	}
	var ts TermSheet
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return TermSheet{}, fmt.Errorf("offer: parse term sheet: %w", err)
	}
	return ts, nil
}

// Build turns a term sheet into a validated offer for trader.
func (ts TermSheet) Build(trader domain.PublicKey, now time.Time) (domain.Offer, error) {
	cmp, err := domain.ParseComparison(normalizeName(ts.Comparison))
	if err != nil {
		return domain.Offer{}, err
	}

	o := domain.Offer{
		FixtureID:  ts.FixtureID,
		Period:     ts.Period,
		Predicate:  domain.Predicate{Threshold: ts.Threshold, Comparison: cmp},
		StatA:      domain.StatTerm{Key: ts.StatA},
		Stake:      ts.Stake,
		Odds:       ts.Odds,
		Expiration: ts.Expiration,
		Trader:     trader,
	}
	if ts.Op != "" {
		op, err := domain.ParseBinaryOp(ts.Op)
		if err != nil {
			return domain.Offer{}, err
		}
		o.BinaryOp = &op
	}
	if ts.StatB != nil {
		o.StatB = &domain.StatTerm{Key: *ts.StatB}
	}
	if o.Expiration == 0 {
		if ts.ExpiresIn <= 0 {
			return domain.Offer{}, fmt.Errorf("%w: expiration or expires_in is required", domain.ErrInvalidOffer)
		}
		o.Expiration = uint64(now.Add(ts.ExpiresIn).UnixMilli())
	}
	if o.Stake == 0 {
		return domain.Offer{}, fmt.Errorf("%w: stake must be positive", domain.ErrInvalidOffer)
	}
	if o.Odds <= domain.OddsScale {
		return domain.Offer{}, fmt.Errorf("%w: odds %d must exceed %d", domain.ErrInvalidOffer, o.Odds, domain.OddsScale)
	}
	if err := o.Validate(); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// normalizeName maps snake_case comparison names onto the variant names.
func normalizeName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '_' && s[i] != '-' && s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
