package domain

import "encoding/hex"

// Hash is a 32-byte Merkle node value.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ProofNode is one step of an inclusion proof. IsRightSibling reports whether
// Hash sits to the right of the running value.
type ProofNode struct {
	Hash           Hash
	IsRightSibling bool
}

// UpdateStats summarises the update batch a commitment leaf covers.
type UpdateStats struct {
	UpdateCount  uint32
	MinTimestamp int64
	MaxTimestamp int64
}

// StatValue is one proven statistic.
type StatValue struct {
	Key    uint16
	Value  int32
	Period uint8
}

// StatBundle proves StatValue is part of EventStatRoot.
type StatBundle struct {
	Stat          StatValue
	EventStatRoot Hash
	StatProof     []ProofNode
}

// ScoresSummary is the per-fixture leaf of the daily scores tree.
type ScoresSummary struct {
	FixtureID         uint64
	UpdateStats       UpdateStats
	EventsSubTreeRoot Hash
}

// StatValidation is the provider's proof bundle for one statistic of one
// score update. SubTreeProof links EventStatRoot to Summary.EventsSubTreeRoot;
// MainTreeProof links the summary leaf to the daily scores root.
type StatValidation struct {
	Ts            int64
	Stat          StatBundle
	Summary       ScoresSummary
	SubTreeProof  []ProofNode
	MainTreeProof []ProofNode
}

// StatSelector picks the statistic(s) a settlement or validation proves.
type StatSelector struct {
	FixtureID uint64
	Seq       uint64
	StatKey   uint16
	StatKeyB  *uint16
	Op        *BinaryOp
}

// Combined reports whether a second statistic is selected.
func (s StatSelector) Combined() bool { return s.StatKeyB != nil }

// FixturesSummary is the per-fixture leaf of the ten-day fixtures tree.
type FixturesSummary struct {
	FixtureID         uint64
	CompetitionID     int64
	Competition       string
	UpdateStats       UpdateStats
	UpdateSubTreeRoot Hash
}

// FixtureValidation proves a fixture snapshot against the ten-day root.
type FixtureValidation struct {
	Snapshot      Fixture
	Summary       FixturesSummary
	SubTreeProof  []ProofNode
	MainTreeProof []ProofNode
}

// OddsSummary is the per-fixture leaf of the daily odds tree.
type OddsSummary struct {
	FixtureID       uint64
	UpdateStats     UpdateStats
	OddsSubTreeRoot Hash
}

// OddsValidation proves one odds message against the daily odds root.
type OddsValidation struct {
	Odds          Odds
	Summary       OddsSummary
	SubTreeProof  []ProofNode
	MainTreeProof []ProofNode
}
