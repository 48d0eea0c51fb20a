package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// TradeHandler serves matched trades and their settlement state.
type TradeHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type tradeJSON struct {
	ID              uint64     `json:"id"`
	OfferID         uint32     `json:"offer_id"`
	Status          string     `json:"status"`
	Maker           string     `json:"maker"`
	Taker           string     `json:"taker"`
	Escrow          uint64     `json:"escrow"`
	Winner          string     `json:"winner,omitempty"`
	SettleSignature string     `json:"settle_signature,omitempty"`
	Offer           offerJSON  `json:"offer"`
	CreatedAt       time.Time  `json:"created_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

func toTradeJSON(t domain.Trade) tradeJSON {
	out := tradeJSON{
		ID:              t.ID,
		OfferID:         t.OfferID,
		Status:          string(t.Status),
		Maker:           t.Maker.String(),
		Taker:           t.Taker.String(),
		Escrow:          t.Escrow(),
		SettleSignature: t.SettleSignature,
		Offer:           toOfferJSON(t.Offer),
		CreatedAt:       t.CreatedAt,
		SettledAt:       t.SettledAt,
	}
	if !t.Winner.IsZero() {
		out.Winner = t.Winner.String()
	}
	return out
}

// ListTrades returns trades, newest first, optionally filtered by status.
// GET /api/trades?status=settled&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	status := domain.TradeStatus(r.URL.Query().Get("status"))
	out := make([]tradeJSON, 0, len(trades))
	for _, t := range trades {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, toTradeJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// GetTrade returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trade id")
		return
	}
	t, err := h.trades.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.Uint64("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	writeJSON(w, http.StatusOK, toTradeJSON(t))
}
