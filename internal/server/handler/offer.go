package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// OfferHandler serves the offers tracked by this deployment.
type OfferHandler struct {
	offers domain.OfferStore
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler.
func NewOfferHandler(offers domain.OfferStore, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{offers: offers, logger: logger}
}

type offerRecordJSON struct {
	ID          uint32    `json:"id"`
	Status      string    `json:"status"`
	Participant string    `json:"participant"`
	Offer       offerJSON `json:"offer"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toOfferRecordJSON(rec domain.OfferRecord) offerRecordJSON {
	return offerRecordJSON{
		ID:          rec.ID,
		Status:      string(rec.Status),
		Participant: rec.Participant,
		Offer:       toOfferJSON(rec.Offer),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// ListOffers returns offers, optionally filtered by status.
// GET /api/offers?status=submitted&limit=50&offset=0
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	status := domain.OfferStatus(r.URL.Query().Get("status"))
	recs, err := h.offers.ListByStatus(r.Context(), status, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list offers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list offers")
		return
	}

	out := make([]offerRecordJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toOfferRecordJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": out})
}

// GetOffer returns one offer.
// GET /api/offers/{id}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}
	rec, err := h.offers.GetByID(r.Context(), uint32(id))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "offer not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get offer failed",
			slog.Uint64("offer_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get offer")
		return
	}
	writeJSON(w, http.StatusOK, toOfferRecordJSON(rec))
}
