package txodds

import (
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
)

// APIFixture is a fixture as the provider returns it.
type APIFixture struct {
	FixtureID          uint64 `json:"FixtureId"`
	Ts                 int64  `json:"Ts"`
	StartTime          int64  `json:"StartTime"`
	Competition        string `json:"Competition"`
	CompetitionID      int64  `json:"CompetitionId"`
	FixtureGroupID     int64  `json:"FixtureGroupId"`
	Participant1ID     int64  `json:"Participant1Id"`
	Participant1       string `json:"Participant1"`
	Participant2ID     int64  `json:"Participant2Id"`
	Participant2       string `json:"Participant2"`
	Participant1IsHome bool   `json:"Participant1IsHome"`
}

// ToDomain converts the wire fixture to the domain type.
func (f APIFixture) ToDomain() domain.Fixture {
	return domain.Fixture{
		FixtureID:          f.FixtureID,
		Ts:                 f.Ts,
		StartTime:          f.StartTime,
		Competition:        f.Competition,
		CompetitionID:      f.CompetitionID,
		FixtureGroupID:     f.FixtureGroupID,
		Participant1ID:     f.Participant1ID,
		Participant1:       f.Participant1,
		Participant2ID:     f.Participant2ID,
		Participant2:       f.Participant2,
		Participant1IsHome: f.Participant1IsHome,
	}
}

// APIOdds is one odds message as the provider returns it.
type APIOdds struct {
	FixtureID        uint64   `json:"FixtureId"`
	MessageID        string   `json:"MessageId"`
	Ts               int64    `json:"Ts"`
	Bookmaker        string   `json:"Bookmaker"`
	BookmakerID      int32    `json:"BookmakerId"`
	SuperOddsType    string   `json:"SuperOddsType"`
	GameState        *string  `json:"GameState"`
	InRunning        bool     `json:"InRunning"`
	MarketParameters *string  `json:"MarketParameters"`
	MarketPeriod     *string  `json:"MarketPeriod"`
	PriceNames       []string `json:"PriceNames"`
	Prices           []int32  `json:"Prices"`
}

// ToDomain converts the wire odds to the domain type. Empty optional
// strings become absent.
func (o APIOdds) ToDomain() domain.Odds {
	return domain.Odds{
		FixtureID:        o.FixtureID,
		MessageID:        o.MessageID,
		Ts:               o.Ts,
		Bookmaker:        o.Bookmaker,
		BookmakerID:      o.BookmakerID,
		SuperOddsType:    o.SuperOddsType,
		GameState:        nonEmpty(o.GameState),
		InRunning:        o.InRunning,
		MarketParameters: nonEmpty(o.MarketParameters),
		MarketPeriod:     nonEmpty(o.MarketPeriod),
		PriceNames:       o.PriceNames,
		Prices:           o.Prices,
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// APIScoreUpdate is one scores message. Snapshot and update endpoints use
// PascalCase keys and the stream uses camelCase; encoding/json matches keys
// case-insensitively so one type serves both.
type APIScoreUpdate struct {
	FixtureID      uint64         `json:"FixtureId"`
	Seq            uint64         `json:"Seq"`
	Ts             int64          `json:"Ts"`
	Action         string         `json:"Action"`
	GameState      string         `json:"GameState"`
	Participant1ID int64          `json:"Participant1Id"`
	Participant2ID int64          `json:"Participant2Id"`
	Score          map[string]any `json:"Score"`
}

// ToDomain converts the wire update to the domain type.
func (u APIScoreUpdate) ToDomain() domain.ScoreUpdate {
	return domain.ScoreUpdate{
		FixtureID:      u.FixtureID,
		Seq:            u.Seq,
		Ts:             u.Ts,
		Action:         u.Action,
		GameState:      u.GameState,
		Participant1ID: u.Participant1ID,
		Participant2ID: u.Participant2ID,
		Score:          u.Score,
	}
}

type apiUpdateStats struct {
	UpdateCount  uint32 `json:"updateCount"`
	MinTimestamp int64  `json:"minTimestamp"`
	MaxTimestamp int64  `json:"maxTimestamp"`
}

func (s apiUpdateStats) toDomain() domain.UpdateStats {
	return domain.UpdateStats{UpdateCount: s.UpdateCount, MinTimestamp: s.MinTimestamp, MaxTimestamp: s.MaxTimestamp}
}

type apiStatValue struct {
	Key    uint16 `json:"key"`
	Value  int32  `json:"value"`
	Period uint8  `json:"period"`
}

// APIStatValidation is the body of /api/scores/stat-validation.
type APIStatValidation struct {
	Ts            int64            `json:"ts"`
	StatToProve   apiStatValue     `json:"statToProve"`
	EventStatRoot merkle.RawBytes  `json:"eventStatRoot"`
	StatProof     []merkle.RawNode `json:"statProof"`
	Summary       struct {
		FixtureID             uint64          `json:"fixtureId"`
		UpdateStats           apiUpdateStats  `json:"updateStats"`
		EventStatsSubTreeRoot merkle.RawBytes `json:"eventStatsSubTreeRoot"`
	} `json:"summary"`
	SubTreeProof  []merkle.RawNode `json:"subTreeProof"`
	MainTreeProof []merkle.RawNode `json:"mainTreeProof"`
}

// ToDomain normalises every hash and assembles the proofs.
func (v APIStatValidation) ToDomain() (domain.StatValidation, error) {
	var out domain.StatValidation
	var err error
	out.Ts = v.Ts
	out.Stat.Stat = domain.StatValue{Key: v.StatToProve.Key, Value: v.StatToProve.Value, Period: v.StatToProve.Period}
	if out.Stat.EventStatRoot, err = v.EventStatRoot.Hash(); err != nil {
		return out, fmt.Errorf("eventStatRoot: %w", err)
	}
	if out.Stat.StatProof, err = merkle.AssembleProof(v.StatProof); err != nil {
		return out, fmt.Errorf("statProof: %w", err)
	}
	out.Summary.FixtureID = v.Summary.FixtureID
	out.Summary.UpdateStats = v.Summary.UpdateStats.toDomain()
	if out.Summary.EventsSubTreeRoot, err = v.Summary.EventStatsSubTreeRoot.Hash(); err != nil {
		return out, fmt.Errorf("summary.eventStatsSubTreeRoot: %w", err)
	}
	if out.SubTreeProof, err = merkle.AssembleProof(v.SubTreeProof); err != nil {
		return out, fmt.Errorf("subTreeProof: %w", err)
	}
	if out.MainTreeProof, err = merkle.AssembleProof(v.MainTreeProof); err != nil {
		return out, fmt.Errorf("mainTreeProof: %w", err)
	}
	return out, nil
}

// APIFixtureValidation is the body of /api/fixtures/validation.
type APIFixtureValidation struct {
	Snapshot APIFixture `json:"snapshot"`
	Summary  struct {
		FixtureID         uint64          `json:"fixtureId"`
		CompetitionID     int64           `json:"competitionId"`
		Competition       string          `json:"competition"`
		UpdateStats       apiUpdateStats  `json:"updateStats"`
		UpdateSubTreeRoot merkle.RawBytes `json:"updateSubTreeRoot"`
	} `json:"summary"`
	SubTreeProof  []merkle.RawNode `json:"subTreeProof"`
	MainTreeProof []merkle.RawNode `json:"mainTreeProof"`
}

// ToDomain normalises every hash and assembles the proofs.
func (v APIFixtureValidation) ToDomain() (domain.FixtureValidation, error) {
	var out domain.FixtureValidation
	var err error
	out.Snapshot = v.Snapshot.ToDomain()
	out.Summary = domain.FixturesSummary{
		FixtureID:     v.Summary.FixtureID,
		CompetitionID: v.Summary.CompetitionID,
		Competition:   v.Summary.Competition,
		UpdateStats:   v.Summary.UpdateStats.toDomain(),
	}
	if out.Summary.UpdateSubTreeRoot, err = v.Summary.UpdateSubTreeRoot.Hash(); err != nil {
		return out, fmt.Errorf("summary.updateSubTreeRoot: %w", err)
	}
	if out.SubTreeProof, err = merkle.AssembleProof(v.SubTreeProof); err != nil {
		return out, fmt.Errorf("subTreeProof: %w", err)
	}
	if out.MainTreeProof, err = merkle.AssembleProof(v.MainTreeProof); err != nil {
		return out, fmt.Errorf("mainTreeProof: %w", err)
	}
	return out, nil
}

// APIOddsValidation is the body of /api/odds/validation.
type APIOddsValidation struct {
	Odds    APIOdds `json:"odds"`
	Summary struct {
		FixtureID       uint64          `json:"fixtureId"`
		UpdateStats     apiUpdateStats  `json:"updateStats"`
		OddsSubTreeRoot merkle.RawBytes `json:"oddsSubTreeRoot"`
	} `json:"summary"`
	SubTreeProof  []merkle.RawNode `json:"subTreeProof"`
	MainTreeProof []merkle.RawNode `json:"mainTreeProof"`
}

// ToDomain normalises every hash and assembles the proofs.
func (v APIOddsValidation) ToDomain() (domain.OddsValidation, error) {
	var out domain.OddsValidation
	var err error
	out.Odds = v.Odds.ToDomain()
	out.Summary = domain.OddsSummary{FixtureID: v.Summary.FixtureID, UpdateStats: v.Summary.UpdateStats.toDomain()}
	if out.Summary.OddsSubTreeRoot, err = v.Summary.OddsSubTreeRoot.Hash(); err != nil {
		return out, fmt.Errorf("summary.oddsSubTreeRoot: %w", err)
	}
	if out.SubTreeProof, err = merkle.AssembleProof(v.SubTreeProof); err != nil {
		return out, fmt.Errorf("subTreeProof: %w", err)
	}
	if out.MainTreeProof, err = merkle.AssembleProof(v.MainTreeProof); err != nil {
		return out, fmt.Errorf("mainTreeProof: %w", err)
	}
	return out, nil
}

// APIOffer is the JSON form of an offer in trading requests and events.
type APIOffer struct {
	FixtureID    uint64           `json:"fixtureId"`
	Period       uint8            `json:"period"`
	Predicate    apiPredicate     `json:"predicate"`
	BinaryOp     *domain.BinaryOp `json:"binaryOp"`
	StatA        domain.StatTerm  `json:"statA"`
	StatB        *domain.StatTerm `json:"statB"`
	Stake        uint64           `json:"stake"`
	Odds         uint32           `json:"odds"`
	Expiration   uint64           `json:"expiration"`
	TraderPubkey domain.PublicKey `json:"traderPubkey"`
}

type apiPredicate struct {
	Threshold  uint32            `json:"threshold"`
	Comparison domain.Comparison `json:"comparison"`
}

// NewAPIOffer converts a domain offer to its wire form.
func NewAPIOffer(o domain.Offer) APIOffer {
	return APIOffer{
		FixtureID:    o.FixtureID,
		Period:       o.Period,
		Predicate:    apiPredicate{Threshold: o.Predicate.Threshold, Comparison: o.Predicate.Comparison},
		BinaryOp:     o.BinaryOp,
		StatA:        o.StatA,
		StatB:        o.StatB,
		Stake:        o.Stake,
		Odds:         o.Odds,
		Expiration:   o.Expiration,
		TraderPubkey: o.Trader,
	}
}

// ToDomain converts the wire offer and validates its shape.
func (a APIOffer) ToDomain() (domain.Offer, error) {
	o := domain.Offer{
		FixtureID:  a.FixtureID,
		Period:     a.Period,
		Predicate:  domain.Predicate{Threshold: a.Predicate.Threshold, Comparison: a.Predicate.Comparison},
		BinaryOp:   a.BinaryOp,
		StatA:      a.StatA,
		StatB:      a.StatB,
		Stake:      a.Stake,
		Odds:       a.Odds,
		Expiration: a.Expiration,
		Trader:     a.TraderPubkey,
	}
	if err := o.Validate(); err != nil {
		return o, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	return o, nil
}
