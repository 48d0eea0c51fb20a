package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, since and until from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until are RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// offerJSON is the wire form of an offer term sheet.
type offerJSON struct {
	FixtureID  uint64  `json:"fixture_id"`
	Period     uint8   `json:"period"`
	StatA      uint16  `json:"stat_a"`
	StatB      *uint16 `json:"stat_b,omitempty"`
	BinaryOp   string  `json:"binary_op,omitempty"`
	Predicate  string  `json:"predicate"`
	Stake      uint64  `json:"stake"`
	TakerStake uint64  `json:"taker_stake"`
	Odds       string  `json:"odds"`
	Expiration string  `json:"expiration"`
	Trader     string  `json:"trader"`
}

func toOfferJSON(o domain.Offer) offerJSON {
	out := offerJSON{
		FixtureID:  o.FixtureID,
		Period:     o.Period,
		StatA:      o.StatA.Key,
		Predicate:  o.Predicate.String(),
		Stake:      o.Stake,
		TakerStake: o.TakerStake(),
		Odds:       o.DecimalOdds().String(),
		Expiration: o.ExpiresAt().UTC().Format(time.RFC3339),
		Trader:     o.Trader.String(),
	}
	if o.StatB != nil {
		k := o.StatB.Key
		out.StatB = &k
	}
	if o.BinaryOp != nil {
		out.BinaryOp = o.BinaryOp.String()
	}
	return out
}
