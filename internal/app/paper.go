package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/ledger/paper"
	"github.com/alanyoungcy/txoracle/internal/merkle"
	"github.com/alanyoungcy/txoracle/internal/platform/txodds"
)

// paperOracle stands in for the root publisher under the paper backend. Every
// validation bundle fetched from the provider has its main-tree root recorded
// in the book before it is returned, so paper proofs verify against what the
// provider served.
type paperOracle struct {
	*txodds.Client
	book          *paper.Book
	hasher        merkle.HashFunc
	oddsNamespace string
	logger        *slog.Logger
}

func newPaperOracle(c *txodds.Client, book *paper.Book, h merkle.HashFunc, oddsNamespace string, logger *slog.Logger) *paperOracle {
	return &paperOracle{
		Client:        c,
		book:          book,
		hasher:        h,
		oddsNamespace: oddsNamespace,
		logger:        logger.With(slog.String("component", "paper_oracle")),
	}
}

func (p *paperOracle) StatValidation(ctx context.Context, s domain.Session, fixtureID, seq uint64, statKey uint16) (domain.StatValidation, error) {
	v, err := p.Client.StatValidation(ctx, s, fixtureID, seq, statKey)
	if err != nil {
		return v, err
	}
	ref, err := merkle.DailyScoresRoot(v.Ts)
	if err != nil {
		return v, err
	}
	p.publish(ctx, ref, merkle.ComputeRoot(merkle.ScoresSummaryLeaf(v.Summary, p.hasher), v.MainTreeProof, p.hasher))
	return v, nil
}

func (p *paperOracle) FixtureValidation(ctx context.Context, s domain.Session, fixtureID uint64) (domain.FixtureValidation, error) {
	v, err := p.Client.FixtureValidation(ctx, s, fixtureID)
	if err != nil {
		return v, err
	}
	ref, err := merkle.TenDailyFixturesRoot(v.Snapshot.Ts)
	if err != nil {
		return v, err
	}
	p.publish(ctx, ref, merkle.ComputeRoot(merkle.FixturesSummaryLeaf(v.Summary, p.hasher), v.MainTreeProof, p.hasher))
	return v, nil
}

func (p *paperOracle) OddsValidation(ctx context.Context, s domain.Session, messageID string, ts int64) (domain.OddsValidation, error) {
	v, err := p.Client.OddsValidation(ctx, s, messageID, ts)
	if err != nil {
		return v, err
	}
	var ref domain.CommitmentRef
	if p.oddsNamespace != "" {
		ref, err = merkle.IntradayRoot(p.oddsNamespace, v.Odds.Ts)
	} else {
		ref, err = merkle.DailyOddsRoot(v.Odds.Ts)
	}
	if err != nil {
		return v, err
	}
	p.publish(ctx, ref, merkle.ComputeRoot(merkle.OddsSummaryLeaf(v.Summary, p.hasher), v.MainTreeProof, p.hasher))
	return v, nil
}

func (p *paperOracle) publish(ctx context.Context, ref domain.CommitmentRef, root domain.Hash) {
	p.book.PublishRoot(ref, root)
	p.logger.DebugContext(ctx, "paper: root published",
		slog.String("namespace", ref.Namespace), slog.String("root", root.String()))
}

// escrowingTrades opens the paper escrow the first time a matched trade is
// recorded, mirroring the matching service locking both stakes on-chain.
type escrowingTrades struct {
	domain.TradeStore
	book   *paper.Book
	logger *slog.Logger
}

func newEscrowingTrades(s domain.TradeStore, book *paper.Book, logger *slog.Logger) *escrowingTrades {
	return &escrowingTrades{TradeStore: s, book: book, logger: logger.With(slog.String("component", "paper_escrow"))}
}

func (s *escrowingTrades) Upsert(ctx context.Context, t domain.Trade) error {
	if err := s.TradeStore.Upsert(ctx, t); err != nil {
		return err
	}
	err := s.book.OpenEscrow(t.ID, t.Maker, t.Taker, t.Offer.Stake, t.Offer.TakerStake())
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "paper: escrow opened",
			slog.Uint64("trade_id", t.ID), slog.Uint64("amount", t.Escrow()))
	case errors.Is(err, domain.ErrAlreadyExists):
	default:
		return err
	}
	return nil
}
