package merkle

import (
	"github.com/alanyoungcy/txoracle/internal/borsh"
	"github.com/alanyoungcy/txoracle/internal/domain"
)

// The Append* functions write committed records in the ledger program's
// argument layout. A leaf hash is the node hash of that encoding.

func AppendUpdateStats(e *borsh.Encoder, s domain.UpdateStats) *borsh.Encoder {
	return e.U32(s.UpdateCount).I64(s.MinTimestamp).I64(s.MaxTimestamp)
}

func AppendStatValue(e *borsh.Encoder, v domain.StatValue) *borsh.Encoder {
	return e.U16(v.Key).I32(v.Value).U8(v.Period)
}

func AppendScoresSummary(e *borsh.Encoder, s domain.ScoresSummary) *borsh.Encoder {
	e.U64(s.FixtureID)
	AppendUpdateStats(e, s.UpdateStats)
	return e.Fixed(s.EventsSubTreeRoot[:])
}

func AppendFixture(e *borsh.Encoder, f domain.Fixture) *borsh.Encoder {
	return e.I64(f.Ts).
		I64(f.StartTime).
		String(f.Competition).
		I64(f.CompetitionID).
		I64(f.FixtureGroupID).
		I64(f.Participant1ID).
		String(f.Participant1).
		I64(f.Participant2ID).
		String(f.Participant2).
		U64(f.FixtureID).
		Bool(f.Participant1IsHome)
}

func AppendFixturesSummary(e *borsh.Encoder, s domain.FixturesSummary) *borsh.Encoder {
	e.U64(s.FixtureID).I64(s.CompetitionID).String(s.Competition)
	AppendUpdateStats(e, s.UpdateStats)
	return e.Fixed(s.UpdateSubTreeRoot[:])
}

func AppendOdds(e *borsh.Encoder, o domain.Odds) *borsh.Encoder {
	e.U64(o.FixtureID).
		String(o.MessageID).
		I64(o.Ts).
		String(o.Bookmaker).
		I32(o.BookmakerID).
		String(o.SuperOddsType).
		OptionString(o.GameState).
		Bool(o.InRunning).
		OptionString(o.MarketParameters).
		OptionString(o.MarketPeriod)
	e.Len(len(o.PriceNames))
	for _, n := range o.PriceNames {
		e.String(n)
	}
	e.Len(len(o.Prices))
	for _, p := range o.Prices {
		e.I32(p)
	}
	return e
}

func AppendOddsSummary(e *borsh.Encoder, s domain.OddsSummary) *borsh.Encoder {
	e.U64(s.FixtureID)
	AppendUpdateStats(e, s.UpdateStats)
	return e.Fixed(s.OddsSubTreeRoot[:])
}

// AppendProof writes a u32-prefixed vector of {hash, isRightSibling}.
func AppendProof(e *borsh.Encoder, proof []domain.ProofNode) *borsh.Encoder {
	e.Len(len(proof))
	for _, n := range proof {
		e.Fixed(n.Hash[:]).Bool(n.IsRightSibling)
	}
	return e
}

func leafOf(h HashFunc, encode func(e *borsh.Encoder) *borsh.Encoder) domain.Hash {
	return h(encode(borsh.NewEncoder(nil)).Bytes())
}

// StatLeaf is the leaf hash of a statistic in its event-stat tree.
func StatLeaf(v domain.StatValue, h HashFunc) domain.Hash {
	return leafOf(h, func(e *borsh.Encoder) *borsh.Encoder { return AppendStatValue(e, v) })
}

// ScoresSummaryLeaf is the leaf hash of a fixture in the daily scores tree.
func ScoresSummaryLeaf(s domain.ScoresSummary, h HashFunc) domain.Hash {
	return leafOf(h, func(e *borsh.Encoder) *borsh.Encoder { return AppendScoresSummary(e, s) })
}

// FixtureLeaf is the leaf hash of a fixture snapshot in its update tree.
func FixtureLeaf(f domain.Fixture, h HashFunc) domain.Hash {
	return leafOf(h, func(e *borsh.Encoder) *borsh.Encoder { return AppendFixture(e, f) })
}

// FixturesSummaryLeaf is the leaf hash of a fixture in the ten-day tree.
func FixturesSummaryLeaf(s domain.FixturesSummary, h HashFunc) domain.Hash {
	return leafOf(h, func(e *borsh.Encoder) *borsh.Encoder { return AppendFixturesSummary(e, s) })
}

// OddsLeaf is the leaf hash of an odds message in its fixture's odds tree.
func OddsLeaf(o domain.Odds, h HashFunc) domain.Hash {
	return leafOf(h, func(e *borsh.Encoder) *borsh.Encoder { return AppendOdds(e, o) })
}

// OddsSummaryLeaf is the leaf hash of a fixture in the daily odds tree.
func OddsSummaryLeaf(s domain.OddsSummary, h HashFunc) domain.Hash {
	return leafOf(h, func(e *borsh.Encoder) *borsh.Encoder { return AppendOddsSummary(e, s) })
}
