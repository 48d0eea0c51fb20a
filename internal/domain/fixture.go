package domain

import "time"

// Fixture is a scheduled sporting event.
type Fixture struct {
	FixtureID          uint64
	Ts                 int64
	StartTime          int64
	Competition        string
	CompetitionID      int64
	FixtureGroupID     int64
	Participant1ID     int64
	Participant1       string
	Participant2ID     int64
	Participant2       string
	Participant1IsHome bool
}

// Start returns the fixture start time.
func (f Fixture) Start() time.Time { return time.UnixMilli(f.StartTime) }

// Odds is one bookmaker price message.
type Odds struct {
	FixtureID        uint64
	MessageID        string
	Ts               int64
	Bookmaker        string
	BookmakerID      int32
	SuperOddsType    string
	GameState        *string
	InRunning        bool
	MarketParameters *string
	MarketPeriod     *string
	PriceNames       []string
	Prices           []int32
}

// ScoreUpdate is one scores feed message.
type ScoreUpdate struct {
	FixtureID      uint64
	Seq            uint64
	Ts             int64
	Action         string
	GameState      string
	Participant1ID int64
	Participant2ID int64
	Score          map[string]any
}
