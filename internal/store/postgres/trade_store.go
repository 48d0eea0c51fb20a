package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, offer_id, maker, taker, terms, status,
	winner, settle_signature, created_at, settled_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var id, offerID int64
	var maker, taker, status string
	var winner, sig *string
	var terms []byte
	if err := row.Scan(&id, &offerID, &maker, &taker, &terms, &status,
		&winner, &sig, &t.CreatedAt, &t.SettledAt); err != nil {
		return t, err
	}
	t.ID, t.OfferID, t.Status = uint64(id), uint32(offerID), domain.TradeStatus(status)

	var err error
	if t.Maker, err = domain.PublicKeyFromBase58(maker); err != nil {
		return t, err
	}
	if t.Taker, err = domain.PublicKeyFromBase58(taker); err != nil {
		return t, err
	}
	if winner != nil && *winner != "" {
		if t.Winner, err = domain.PublicKeyFromBase58(*winner); err != nil {
			return t, err
		}
	}
	if sig != nil {
		t.SettleSignature = *sig
	}
	if err := json.Unmarshal(terms, &t.Offer); err != nil {
		return t, fmt.Errorf("decode terms of trade %d: %w", id, err)
	}
	return t, nil
}

// Upsert records a matched trade. Re-delivered matches keep the stored
// settlement state.
func (s *TradeStore) Upsert(ctx context.Context, t domain.Trade) error {
	terms, err := json.Marshal(t.Offer)
	if err != nil {
		return fmt.Errorf("postgres: marshal trade %d: %w", t.ID, err)
	}
	const query = `
		INSERT INTO trades (
			id, offer_id, fixture_id, maker, taker, terms, escrow, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		int64(t.ID), int64(t.OfferID), int64(t.Offer.FixtureID),
		t.Maker.String(), t.Taker.String(), terms, int64(t.Escrow()),
		string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade %d: %w", t.ID, err)
	}
	return nil
}

// MarkSettled records the settlement outcome.
func (s *TradeStore) MarkSettled(ctx context.Context, id uint64, winner domain.PublicKey, signature string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET status = $2, winner = $3,
		    settle_signature = COALESCE(NULLIF($4, ''), settle_signature),
		    settled_at = COALESCE(settled_at, $5)
		WHERE id = $1`,
		int64(id), string(domain.TradeStatusSettled), winner.String(), signature, at)
	if err != nil {
		return fmt.Errorf("postgres: mark trade %d settled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus sets a trade's status. A settled trade keeps its status.
func (s *TradeStore) UpdateStatus(ctx context.Context, id uint64, status domain.TradeStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET status = $2 WHERE id = $1 AND status <> $3`,
		int64(id), string(status), string(domain.TradeStatusSettled))
	if err != nil {
		return fmt.Errorf("postgres: update trade %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one trade.
func (s *TradeStore) GetByID(ctx context.Context, id uint64) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %d: %w", id, err)
	}
	return t, nil
}

// List returns trades newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := appendListOpts(`SELECT `+tradeSelectCols+` FROM trades WHERE 1=1`, nil, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}
