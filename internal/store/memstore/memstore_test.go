package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

func TestTradeStoreKeepsSettlement(t *testing.T) {
	ctx := context.Background()
	s := New().Trades
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	winner := domain.PublicKey{7}

	if err := s.Upsert(ctx, domain.Trade{ID: 1, Status: domain.TradeStatusMatched, CreatedAt: base}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.MarkSettled(ctx, 1, winner, "sig-1", base.Add(time.Hour)); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	// a redelivered match and a late failure must not undo the settlement
	if err := s.Upsert(ctx, domain.Trade{ID: 1, Status: domain.TradeStatusMatched, CreatedAt: base}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.UpdateStatus(ctx, 1, domain.TradeStatusFailed); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := s.MarkSettled(ctx, 1, winner, "", base.Add(2*time.Hour)); err != nil {
		t.Fatalf("MarkSettled again: %v", err)
	}

	got, err := s.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.TradeStatusSettled {
		t.Errorf("Status = %q, want settled", got.Status)
	}
	if got.SettleSignature != "sig-1" {
		t.Errorf("SettleSignature = %q, want sig-1", got.SettleSignature)
	}
	if got.SettledAt == nil || !got.SettledAt.Equal(base.Add(time.Hour)) {
		t.Errorf("SettledAt = %v, want %v", got.SettledAt, base.Add(time.Hour))
	}

	if err := s.UpdateStatus(ctx, 99, domain.TradeStatusFailed); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateStatus missing = %v, want ErrNotFound", err)
	}
}

func TestTradeStoreListWindow(t *testing.T) {
	ctx := context.Background()
	s := New().Trades
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		_ = s.Upsert(ctx, domain.Trade{ID: uint64(i), CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	since := base.Add(2 * time.Hour)
	got, err := s.List(ctx, domain.ListOpts{Limit: 2, Offset: 1, Since: &since})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 3 {
		t.Errorf("List ids = %v, want [4 3]", ids(got))
	}
}

func ids(ts []domain.Trade) []uint64 {
	out := make([]uint64, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestOfferStore(t *testing.T) {
	ctx := context.Background()
	s := New().Offers
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_ = s.Upsert(ctx, domain.OfferRecord{ID: 1, Status: domain.OfferStatusSubmitted, CreatedAt: base})
	_ = s.Upsert(ctx, domain.OfferRecord{ID: 2, Status: domain.OfferStatusSubmitted, CreatedAt: base.Add(time.Minute)})
	if err := s.UpdateStatus(ctx, 1, domain.OfferStatusMatched); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	submitted, _ := s.ListByStatus(ctx, domain.OfferStatusSubmitted, domain.ListOpts{})
	if len(submitted) != 1 || submitted[0].ID != 2 {
		t.Errorf("submitted = %+v, want offer 2", submitted)
	}
	all, _ := s.ListByStatus(ctx, "", domain.ListOpts{})
	if len(all) != 2 || all[0].ID != 2 {
		t.Errorf("all = %d offers, newest %d; want 2, newest 2", len(all), all[0].ID)
	}
	if _, err := s.GetByID(ctx, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID missing = %v, want ErrNotFound", err)
	}
}

func TestAuditStoreNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New().Audit
	_ = s.Log(ctx, "a", nil)
	_ = s.Log(ctx, "b", map[string]any{"k": 1})

	got, _ := s.List(ctx, domain.ListOpts{Limit: 1})
	if len(got) != 1 || got[0].Event != "b" || got[0].ID != 2 {
		t.Errorf("List = %+v, want entry b", got)
	}
}
