package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
)

// ValidationProvider supplies fixture and odds validation bundles.
type ValidationProvider interface {
	FixtureValidation(ctx context.Context, s domain.Session, fixtureID uint64) (domain.FixtureValidation, error)
	OddsValidation(ctx context.Context, s domain.Session, messageID string, ts int64) (domain.OddsValidation, error)
}

// ValidationService submits provider records for on-chain verification
// against their published commitment roots.
type ValidationService struct {
	provider      ValidationProvider
	settlement    *SettlementCoordinator
	ledger        domain.Ledger
	archiver      domain.Archiver
	oddsNamespace string
	logger        *slog.Logger
}

// NewValidationService creates a ValidationService. Stat bundles are built by
// settlement so both paths prove statistics the same way. oddsNamespace
// selects an intraday odds commitment; empty uses the daily batch roots.
func NewValidationService(
	provider ValidationProvider,
	settlement *SettlementCoordinator,
	ledger domain.Ledger,
	archiver domain.Archiver,
	oddsNamespace string,
	logger *slog.Logger,
) *ValidationService {
	return &ValidationService{
		provider:      provider,
		settlement:    settlement,
		ledger:        ledger,
		archiver:      archiver,
		oddsNamespace: oddsNamespace,
		logger:        logger.With(slog.String("component", "validation")),
	}
}

func (s *ValidationService) requirePublished(ctx context.Context, ref domain.CommitmentRef) error {
	ok, err := s.ledger.CommitmentPublished(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCommitmentNotPublished, ref.Namespace)
	}
	return nil
}

// ValidateFixture proves a fixture snapshot against its ten-day root.
func (s *ValidationService) ValidateFixture(ctx context.Context, sess domain.Session, fixtureID uint64) (string, error) {
	v, err := s.provider.FixtureValidation(ctx, sess, fixtureID)
	if err != nil {
		return "", fmt.Errorf("validation: fixture %d: %w", fixtureID, err)
	}
	ref, err := merkle.TenDailyFixturesRoot(v.Snapshot.Ts)
	if err != nil {
		return "", fmt.Errorf("validation: fixture %d: %w", fixtureID, err)
	}
	if err := s.requirePublished(ctx, ref); err != nil {
		return "", fmt.Errorf("validation: fixture %d: %w", fixtureID, err)
	}
	s.archive(ctx, "fixture_validation", fmt.Sprintf("%d", fixtureID), v)

	sig, err := s.ledger.ValidateFixture(ctx, v, ref)
	if err != nil {
		return "", fmt.Errorf("validation: fixture %d: %w", fixtureID, err)
	}
	s.logger.InfoContext(ctx, "validation: fixture validated",
		slog.Uint64("fixture_id", fixtureID), slog.String("signature", sig))
	return sig, nil
}

// ValidateOdds proves one odds message against its daily (or intraday) root.
func (s *ValidationService) ValidateOdds(ctx context.Context, sess domain.Session, messageID string, ts int64) (string, error) {
	v, err := s.provider.OddsValidation(ctx, sess, messageID, ts)
	if err != nil {
		return "", fmt.Errorf("validation: odds %s: %w", messageID, err)
	}
	var ref domain.CommitmentRef
	if s.oddsNamespace != "" {
		ref, err = merkle.IntradayRoot(s.oddsNamespace, v.Odds.Ts)
	} else {
		ref, err = merkle.DailyOddsRoot(v.Odds.Ts)
	}
	if err != nil {
		return "", fmt.Errorf("validation: odds %s: %w", messageID, err)
	}
	if err := s.requirePublished(ctx, ref); err != nil {
		return "", fmt.Errorf("validation: odds %s: %w", messageID, err)
	}
	s.archive(ctx, "odds_validation", messageID, v)

	sig, err := s.ledger.ValidateOdds(ctx, v, ref)
	if err != nil {
		return "", fmt.Errorf("validation: odds %s: %w", messageID, err)
	}
	s.logger.InfoContext(ctx, "validation: odds validated",
		slog.String("message_id", messageID), slog.String("signature", sig))
	return sig, nil
}

// ValidateStat proves the statistic(s) of sel and applies the predicate
// on-chain. A predicate that does not hold is reported as
// ErrPredicateFailed, distinct from ErrProofInvalid.
func (s *ValidationService) ValidateStat(ctx context.Context, sess domain.Session, sel domain.StatSelector, p domain.Predicate) (string, error) {
	if sel.Seq == 0 {
		seq, err := s.settlement.latestSeq(ctx, sess, sel.FixtureID)
		if err != nil {
			return "", fmt.Errorf("validation: stat %d/%d: %w", sel.FixtureID, sel.StatKey, err)
		}
		sel.Seq = seq
	}
	o := domain.Offer{FixtureID: sel.FixtureID, Predicate: p}
	proof, _, err := s.settlement.BuildProof(ctx, sess, o, sel)
	if err != nil {
		return "", fmt.Errorf("validation: stat %d/%d: %w", sel.FixtureID, sel.StatKey, err)
	}
	if err := merkle.CheckPredicate(proof); err != nil {
		return "", fmt.Errorf("validation: stat %d/%d: %w", sel.FixtureID, sel.StatKey, err)
	}
	if err := s.requirePublished(ctx, proof.Commitment); err != nil {
		return "", fmt.Errorf("validation: stat %d/%d: %w", sel.FixtureID, sel.StatKey, err)
	}

	sig, err := s.ledger.ValidateStat(ctx, proof)
	if err != nil {
		return "", fmt.Errorf("validation: stat %d/%d: %w", sel.FixtureID, sel.StatKey, err)
	}
	s.logger.InfoContext(ctx, "validation: stat validated",
		slog.Uint64("fixture_id", sel.FixtureID),
		slog.Uint64("seq", sel.Seq),
		slog.String("signature", sig),
	)
	return sig, nil
}

func (s *ValidationService) archive(ctx context.Context, kind, key string, v any) {
	if s.archiver == nil {
		return
	}
	if _, err := s.archiver.ArchiveSnapshot(ctx, kind, key, v); err != nil {
		s.logger.WarnContext(ctx, "validation: failed to archive bundle",
			slog.String("kind", kind), slog.String("error", err.Error()))
	}
}
