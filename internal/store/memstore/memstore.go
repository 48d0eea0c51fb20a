// Package memstore keeps offers, trades and the audit log in process memory.
// It backs paper runs and the monitor when no database is configured.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// Stores groups the in-memory store implementations.
type Stores struct {
	Offers *OfferStore
	Trades *TradeStore
	Audit  *AuditStore
}

// New returns empty stores.
func New() Stores {
	return Stores{
		Offers: &OfferStore{offers: map[uint32]domain.OfferRecord{}},
		Trades: &TradeStore{trades: map[uint64]domain.Trade{}},
		Audit:  &AuditStore{now: time.Now},
	}
}

// window applies ListOpts to items already sorted newest first.
func window[T any](items []T, at func(T) time.Time, opts domain.ListOpts) []T {
	out := items[:0:0]
	for _, it := range items {
		ts := at(it)
		if opts.Since != nil && ts.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !ts.Before(*opts.Until) {
			continue
		}
		out = append(out, it)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// OfferStore implements domain.OfferStore.
type OfferStore struct {
	mu     sync.RWMutex
	offers map[uint32]domain.OfferRecord
}

// Upsert inserts rec or replaces the stored offer with the same id.
func (s *OfferStore) Upsert(_ context.Context, rec domain.OfferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.offers[rec.ID]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = old.CreatedAt
	}
	s.offers[rec.ID] = rec
	return nil
}

// UpdateStatus sets the status of a stored offer.
func (s *OfferStore) UpdateStatus(_ context.Context, id uint32, status domain.OfferStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.offers[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status, rec.UpdatedAt = status, time.Now().UTC()
	s.offers[id] = rec
	return nil
}

// GetByID returns one offer.
func (s *OfferStore) GetByID(_ context.Context, id uint32) (domain.OfferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.offers[id]
	if !ok {
		return domain.OfferRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// ListByStatus returns offers with status, or all offers when status is
// empty, newest first.
func (s *OfferStore) ListByStatus(_ context.Context, status domain.OfferStatus, opts domain.ListOpts) ([]domain.OfferRecord, error) {
	s.mu.RLock()
	recs := make([]domain.OfferRecord, 0, len(s.offers))
	for _, rec := range s.offers {
		if status == "" || rec.Status == status {
			recs = append(recs, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
	return window(recs, func(r domain.OfferRecord) time.Time { return r.CreatedAt }, opts), nil
}

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[uint64]domain.Trade
}

// Upsert records a trade. A trade already stored keeps its state.
func (s *TradeStore) Upsert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; !ok {
		s.trades[t.ID] = t
	}
	return nil
}

// MarkSettled records the settlement outcome. The first settlement time and
// a non-empty signature are kept.
func (s *TradeStore) MarkSettled(_ context.Context, id uint64, winner domain.PublicKey, signature string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status, t.Winner = domain.TradeStatusSettled, winner
	if signature != "" {
		t.SettleSignature = signature
	}
	if t.SettledAt == nil {
		t.SettledAt = &at
	}
	s.trades[id] = t
	return nil
}

// UpdateStatus sets a trade's status. A settled trade keeps its status.
func (s *TradeStore) UpdateStatus(_ context.Context, id uint64, status domain.TradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status != domain.TradeStatusSettled {
		t.Status = status
		s.trades[id] = t
	}
	return nil
}

// GetByID returns one trade.
func (s *TradeStore) GetByID(_ context.Context, id uint64) (domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

// List returns trades newest first.
func (s *TradeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	trades := make([]domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		trades = append(trades, t)
	}
	s.mu.RUnlock()

	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].CreatedAt.Equal(trades[j].CreatedAt) {
			return trades[i].CreatedAt.After(trades[j].CreatedAt)
		}
		return trades[i].ID > trades[j].ID
	})
	return window(trades, func(t domain.Trade) time.Time { return t.CreatedAt }, opts), nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	entries := make([]domain.AuditEntry, len(s.entries))
	for i, e := range s.entries {
		entries[len(s.entries)-1-i] = e
	}
	s.mu.RUnlock()
	return window(entries, func(e domain.AuditEntry) time.Time { return e.CreatedAt }, opts), nil
}

var (
	_ domain.OfferStore = (*OfferStore)(nil)
	_ domain.TradeStore = (*TradeStore)(nil)
	_ domain.AuditStore = (*AuditStore)(nil)
)
