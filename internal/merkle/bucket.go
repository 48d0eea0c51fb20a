package merkle

import (
	"encoding/binary"
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

const (
	msPerMinute = 60_000
	msPerHour   = 3_600_000
	msPerDay    = 86_400_000

	// fixtureBatchDays is the width of a fixtures commitment batch.
	fixtureBatchDays = 10
)

// Commitment namespaces, as seeded by the ledger program.
const (
	NamespaceDailyOdds       = "daily_batch_roots"
	NamespaceDailyScores     = "daily_scores_roots"
	NamespaceTenDailyFixture = "ten_daily_fixtures_roots"
)

// TimeBucket is the set of indices a timestamp falls into.
type TimeBucket struct {
	EpochDay        int64
	AlignedEpochDay int64
	HourOfDay       int64
	Interval5Min    int64
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 { return a - floorDiv(a, b)*b }

// EpochDay is the number of whole days since the unix epoch.
func EpochDay(tsMs int64) int64 { return floorDiv(tsMs, msPerDay) }

// AlignedEpochDay rounds the epoch day down to its ten-day batch.
func AlignedEpochDay(tsMs int64) int64 {
	return floorDiv(EpochDay(tsMs), fixtureBatchDays) * fixtureBatchDays
}

// HourOfDay is the UTC hour, 0..23.
func HourOfDay(tsMs int64) int64 { return floorMod(floorDiv(tsMs, msPerHour), 24) }

// Interval5Min is the five-minute slot within the hour, 0..11.
func Interval5Min(tsMs int64) int64 {
	minute := floorMod(floorDiv(tsMs, msPerMinute), 60)
	return minute / 5
}

// Bucket computes every index for tsMs.
func Bucket(tsMs int64) TimeBucket {
	return TimeBucket{
		EpochDay:        EpochDay(tsMs),
		AlignedEpochDay: AlignedEpochDay(tsMs),
		HourOfDay:       HourOfDay(tsMs),
		Interval5Min:    Interval5Min(tsMs),
	}
}

// DailyScoresRoot addresses the scores commitment for the day of tsMs.
func DailyScoresRoot(tsMs int64) (domain.CommitmentRef, error) {
	return dayRef(NamespaceDailyScores, EpochDay(tsMs))
}

// DailyOddsRoot addresses the odds commitment for the day of tsMs.
func DailyOddsRoot(tsMs int64) (domain.CommitmentRef, error) {
	return dayRef(NamespaceDailyOdds, EpochDay(tsMs))
}

// TenDailyFixturesRoot addresses the fixtures commitment for the ten-day
// batch containing tsMs.
func TenDailyFixturesRoot(tsMs int64) (domain.CommitmentRef, error) {
	return dayRef(NamespaceTenDailyFixture, AlignedEpochDay(tsMs))
}

// IntradayRoot addresses an intraday commitment under namespace: epoch day
// (u16), hour (u8) and five-minute interval (u8).
func IntradayRoot(namespace string, tsMs int64) (domain.CommitmentRef, error) {
	ref, err := dayRef(namespace, EpochDay(tsMs))
	if err != nil {
		return ref, err
	}
	ref.Index = append(ref.Index, []byte{byte(HourOfDay(tsMs))}, []byte{byte(Interval5Min(tsMs))})
	return ref, nil
}

func dayRef(namespace string, day int64) (domain.CommitmentRef, error) {
	if day < 0 || day > 0xffff {
		return domain.CommitmentRef{}, fmt.Errorf("merkle: epoch day %d does not fit the u16 index", day)
	}
	return domain.CommitmentRef{
		Namespace: namespace,
		Index:     [][]byte{binary.LittleEndian.AppendUint16(nil, uint16(day))},
	}, nil
}
