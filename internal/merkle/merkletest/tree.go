// Package merkletest builds small commitment trees so proof consumers can be
// exercised without a provider.
package merkletest

import (
	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
)

// Tree is a binary Merkle tree. An odd node at any level is paired with
// itself.
type Tree struct {
	levels [][]domain.Hash
	h      merkle.HashFunc
}

// New builds a tree over leaves, which must be non-empty.
func New(leaves []domain.Hash, h merkle.HashFunc) *Tree {
	t := &Tree{h: h, levels: [][]domain.Hash{append([]domain.Hash(nil), leaves...)}}
	for cur := t.levels[0]; len(cur) > 1; {
		next := make([]domain.Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			right := cur[i]
			if i+1 < len(cur) {
				right = cur[i+1]
			}
			next = append(next, h(cur[i][:], right[:]))
		}
		t.levels = append(t.levels, next)
		cur = next
	}
	return t
}

// Root returns the tree root.
func (t *Tree) Root() domain.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the leaf-to-root proof for leaf i.
func (t *Tree) Proof(i int) []domain.ProofNode {
	var proof []domain.ProofNode
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling >= len(level) {
			sibling = i
		}
		proof = append(proof, domain.ProofNode{Hash: level[sibling], IsRightSibling: sibling >= i})
		i /= 2
	}
	return proof
}

func filler(tag byte) domain.Hash {
	var h domain.Hash
	for i := range h {
		h[i] = tag
	}
	return h
}

// ScoresDay is a daily scores commitment containing one fixture event with
// the given statistics, surrounded by filler events and fixtures.
type ScoresDay struct {
	Ts    int64
	Root  domain.Hash
	stats []domain.StatValue
	stat  *Tree
	sub   *Tree
	main  *Tree
	sum   domain.ScoresSummary
}

// NewScoresDay commits stats for fixtureID at ts.
func NewScoresDay(ts int64, fixtureID uint64, stats []domain.StatValue, h merkle.HashFunc) *ScoresDay {
	leaves := make([]domain.Hash, len(stats))
	for i, s := range stats {
		leaves[i] = merkle.StatLeaf(s, h)
	}
	statTree := New(leaves, h)
	sub := New([]domain.Hash{filler(0xa1), statTree.Root(), filler(0xa2)}, h)
	sum := domain.ScoresSummary{
		FixtureID:         fixtureID,
		UpdateStats:       domain.UpdateStats{UpdateCount: 3, MinTimestamp: ts - 60_000, MaxTimestamp: ts},
		EventsSubTreeRoot: sub.Root(),
	}
	main := New([]domain.Hash{filler(0xb1), filler(0xb2), merkle.ScoresSummaryLeaf(sum, h)}, h)
	return &ScoresDay{Ts: ts, Root: main.Root(), stats: stats, stat: statTree, sub: sub, main: main, sum: sum}
}

// Validation returns the bundle proving the statistic with key.
func (d *ScoresDay) Validation(key uint16) (domain.StatValidation, bool) {
	for i, s := range d.stats {
		if s.Key != key {
			continue
		}
		return domain.StatValidation{
			Ts: d.Ts,
			Stat: domain.StatBundle{
				Stat:          s,
				EventStatRoot: d.stat.Root(),
				StatProof:     d.stat.Proof(i),
			},
			Summary:       d.sum,
			SubTreeProof:  d.sub.Proof(1),
			MainTreeProof: d.main.Proof(2),
		}, true
	}
	return domain.StatValidation{}, false
}

// FixturesBatch commits one fixture snapshot in a ten-day batch.
func FixturesBatch(f domain.Fixture, h merkle.HashFunc) (domain.FixtureValidation, domain.Hash) {
	sub := New([]domain.Hash{merkle.FixtureLeaf(f, h), filler(0xc1)}, h)
	sum := domain.FixturesSummary{
		FixtureID:         f.FixtureID,
		CompetitionID:     f.CompetitionID,
		Competition:       f.Competition,
		UpdateStats:       domain.UpdateStats{UpdateCount: 2, MinTimestamp: f.Ts, MaxTimestamp: f.Ts},
		UpdateSubTreeRoot: sub.Root(),
	}
	main := New([]domain.Hash{filler(0xc2), merkle.FixturesSummaryLeaf(sum, h)}, h)
	return domain.FixtureValidation{
		Snapshot:      f,
		Summary:       sum,
		SubTreeProof:  sub.Proof(0),
		MainTreeProof: main.Proof(1),
	}, main.Root()
}

// OddsDay commits one odds message in a daily odds batch.
func OddsDay(o domain.Odds, h merkle.HashFunc) (domain.OddsValidation, domain.Hash) {
	sub := New([]domain.Hash{filler(0xd1), filler(0xd2), merkle.OddsLeaf(o, h)}, h)
	sum := domain.OddsSummary{
		FixtureID:       o.FixtureID,
		UpdateStats:     domain.UpdateStats{UpdateCount: 3, MinTimestamp: o.Ts, MaxTimestamp: o.Ts},
		OddsSubTreeRoot: sub.Root(),
	}
	main := New([]domain.Hash{merkle.OddsSummaryLeaf(sum, h)}, h)
	return domain.OddsValidation{
		Odds:          o,
		Summary:       sum,
		SubTreeProof:  sub.Proof(2),
		MainTreeProof: main.Proof(0),
	}, main.Root()
}
