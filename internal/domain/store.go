package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OfferStore persists offers created or observed by a participant.
type OfferStore interface {
	Upsert(ctx context.Context, rec OfferRecord) error
	UpdateStatus(ctx context.Context, id uint32, status OfferStatus) error
	GetByID(ctx context.Context, id uint32) (OfferRecord, error)
	ListByStatus(ctx context.Context, status OfferStatus, opts ListOpts) ([]OfferRecord, error)
}

// TradeStore persists matched trades and their settlement outcome.
type TradeStore interface {
	Upsert(ctx context.Context, trade Trade) error
	MarkSettled(ctx context.Context, id uint64, winner PublicKey, signature string, at time.Time) error
	UpdateStatus(ctx context.Context, id uint64, status TradeStatus) error
	GetByID(ctx context.Context, id uint64) (Trade, error)
	List(ctx context.Context, opts ListOpts) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
