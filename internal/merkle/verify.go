package merkle

import (
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// CombinedValue returns a.Value, or op(a.Value, b.Value) when b is present.
func CombinedValue(a domain.StatValue, b *domain.StatValue, op *domain.BinaryOp) (int64, error) {
	if (b == nil) != (op == nil) {
		return 0, fmt.Errorf("%w: second stat and binary op must be paired", domain.ErrInvalidOffer)
	}
	if b == nil {
		return int64(a.Value), nil
	}
	return op.Apply(int64(a.Value), int64(b.Value))
}

// CheckPredicate applies p to the (possibly combined) proven value and
// returns ErrPredicateFailed when it does not hold.
func CheckPredicate(p domain.StatProof) error {
	var b *domain.StatValue
	if p.StatB != nil {
		b = &p.StatB.Stat
	}
	value, err := CombinedValue(p.StatA.Stat, b, p.Op)
	if err != nil {
		return err
	}
	if !p.Predicate.Holds(value) {
		return fmt.Errorf("%w: value %d against %s", domain.ErrPredicateFailed, value, p.Predicate)
	}
	return nil
}

// VerifyStatProof recomputes the proof chain stat → event stat root →
// events subtree root. When root is non-nil the summary leaf is also checked
// against it through the main tree proof. Any mismatch is ErrProofInvalid.
func VerifyStatProof(p domain.StatProof, root *domain.Hash, h HashFunc) error {
	bundles := []domain.StatBundle{p.StatA}
	if p.StatB != nil {
		bundles = append(bundles, *p.StatB)
	}
	for i, b := range bundles {
		if got := ComputeRoot(StatLeaf(b.Stat, h), b.StatProof, h); got != b.EventStatRoot {
			return fmt.Errorf("%w: stat %d (key %d) recomputes to %s, bundle root %s",
				domain.ErrProofInvalid, i, b.Stat.Key, got, b.EventStatRoot)
		}
		if b.EventStatRoot != p.StatA.EventStatRoot {
			return fmt.Errorf("%w: stat %d belongs to a different event", domain.ErrProofInvalid, i)
		}
	}

	if got := ComputeRoot(p.StatA.EventStatRoot, p.SubTreeProof, h); got != p.Summary.EventsSubTreeRoot {
		return fmt.Errorf("%w: event stat root recomputes to %s, summary has %s",
			domain.ErrProofInvalid, got, p.Summary.EventsSubTreeRoot)
	}

	if root != nil {
		if got := ComputeRoot(ScoresSummaryLeaf(p.Summary, h), p.MainTreeProof, h); got != *root {
			return fmt.Errorf("%w: summary recomputes to %s, commitment is %s",
				domain.ErrProofInvalid, got, *root)
		}
	}
	return nil
}

// VerifyFixtureProof checks a fixture snapshot against the ten-day root.
func VerifyFixtureProof(v domain.FixtureValidation, root domain.Hash, h HashFunc) error {
	if got := ComputeRoot(FixtureLeaf(v.Snapshot, h), v.SubTreeProof, h); got != v.Summary.UpdateSubTreeRoot {
		return fmt.Errorf("%w: fixture snapshot recomputes to %s", domain.ErrProofInvalid, got)
	}
	if got := ComputeRoot(FixturesSummaryLeaf(v.Summary, h), v.MainTreeProof, h); got != root {
		return fmt.Errorf("%w: fixtures summary recomputes to %s", domain.ErrProofInvalid, got)
	}
	return nil
}

// VerifyOddsProof checks an odds message against the daily odds root.
func VerifyOddsProof(v domain.OddsValidation, root domain.Hash, h HashFunc) error {
	if got := ComputeRoot(OddsLeaf(v.Odds, h), v.SubTreeProof, h); got != v.Summary.OddsSubTreeRoot {
		return fmt.Errorf("%w: odds message recomputes to %s", domain.ErrProofInvalid, got)
	}
	if got := ComputeRoot(OddsSummaryLeaf(v.Summary, h), v.MainTreeProof, h); got != root {
		return fmt.Errorf("%w: odds summary recomputes to %s", domain.ErrProofInvalid, got)
	}
	return nil
}
