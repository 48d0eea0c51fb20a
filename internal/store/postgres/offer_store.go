package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// OfferStore implements domain.OfferStore using PostgreSQL.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates a new OfferStore backed by the given connection pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

const offerSelectCols = `id, participant, terms, signature, status, created_at, updated_at`

func scanOffer(row pgx.Row) (domain.OfferRecord, error) {
	var rec domain.OfferRecord
	var id int64
	var terms []byte
	var status string
	if err := row.Scan(&id, &rec.Participant, &terms, &rec.Signature, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return rec, err
	}
	rec.ID = uint32(id)
	rec.Status = domain.OfferStatus(status)
	if err := json.Unmarshal(terms, &rec.Offer); err != nil {
		return rec, fmt.Errorf("decode terms of offer %d: %w", id, err)
	}
	return rec, nil
}

// Upsert inserts the offer or refreshes its status and signature.
func (s *OfferStore) Upsert(ctx context.Context, rec domain.OfferRecord) error {
	terms, err := json.Marshal(rec.Offer)
	if err != nil {
		return fmt.Errorf("postgres: marshal offer %d: %w", rec.ID, err)
	}
	const query = `
		INSERT INTO offers (
			id, participant, fixture_id, trader, terms, signature,
			status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			signature  = COALESCE(EXCLUDED.signature, offers.signature),
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		int64(rec.ID), rec.Participant, int64(rec.Offer.FixtureID), rec.Offer.Trader.String(),
		terms, rec.Signature, string(rec.Status), rec.Offer.ExpiresAt(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert offer %d: %w", rec.ID, err)
	}
	return nil
}

// UpdateStatus sets the status of an offer.
func (s *OfferStore) UpdateStatus(ctx context.Context, id uint32, status domain.OfferStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE offers SET status = $2, updated_at = NOW() WHERE id = $1`,
		int64(id), string(status))
	if err != nil {
		return fmt.Errorf("postgres: update offer %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one offer.
func (s *OfferStore) GetByID(ctx context.Context, id uint32) (domain.OfferRecord, error) {
	rec, err := scanOffer(s.pool.QueryRow(ctx,
		`SELECT `+offerSelectCols+` FROM offers WHERE id = $1`, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OfferRecord{}, domain.ErrNotFound
		}
		return domain.OfferRecord{}, fmt.Errorf("postgres: get offer %d: %w", id, err)
	}
	return rec, nil
}

// ListByStatus returns offers in status, newest first. An empty status lists
// every offer.
func (s *OfferStore) ListByStatus(ctx context.Context, status domain.OfferStatus, opts domain.ListOpts) ([]domain.OfferRecord, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers WHERE ($1 = '' OR status = $1)`
	query, args := appendListOpts(query, []any{string(status)}, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers: %w", err)
	}
	defer rows.Close()

	var out []domain.OfferRecord
	for rows.Next() {
		rec, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan offer: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list offers rows: %w", err)
	}
	return out, nil
}

// appendListOpts adds the created_at window, ordering and pagination of opts
// to query.
func appendListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
