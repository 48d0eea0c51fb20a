package txodds

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
	"github.com/alanyoungcy/txoracle/internal/merkle/merkletest"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:         url,
		ActivationDelay: time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// signedInts renders a hash the way the provider sometimes does: as signed
// 8-bit values.
func signedInts(h domain.Hash) []int {
	out := make([]int, len(h))
	for i, b := range h {
		out[i] = int(int8(b))
	}
	return out
}

func rawProof(nodes []domain.ProofNode) []map[string]any {
	out := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		out[i] = map[string]any{"hash": signedInts(n.Hash), "isRightSibling": n.IsRightSibling}
	}
	return out
}

func statValidationJSON(v domain.StatValidation) map[string]any {
	return map[string]any{
		"ts":            v.Ts,
		"statToProve":   map[string]any{"key": v.Stat.Stat.Key, "value": v.Stat.Stat.Value, "period": v.Stat.Stat.Period},
		"eventStatRoot": signedInts(v.Stat.EventStatRoot),
		"statProof":     rawProof(v.Stat.StatProof),
		"summary": map[string]any{
			"fixtureId": v.Summary.FixtureID,
			"updateStats": map[string]any{
				"updateCount":  v.Summary.UpdateStats.UpdateCount,
				"minTimestamp": v.Summary.UpdateStats.MinTimestamp,
				"maxTimestamp": v.Summary.UpdateStats.MaxTimestamp,
			},
			"eventStatsSubTreeRoot": signedInts(v.Summary.EventsSubTreeRoot),
		},
		"subTreeProof":  rawProof(v.SubTreeProof),
		"mainTreeProof": rawProof(v.MainTreeProof),
	}
}

func TestGuestLoginAndSessionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/guest/start":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			fmt.Fprint(w, `{"token":"jwt-1"}`)
		case "/api/fixtures/snapshot":
			if got := r.Header.Get("Authorization"); got != "Bearer jwt-1" {
				t.Errorf("Authorization = %q", got)
			}
			if got := r.Header.Get("X-Api-Token"); got != "api-1" {
				t.Errorf("X-Api-Token = %q", got)
			}
			if got := r.URL.Query().Get("startEpochDay"); got != "20000" {
				t.Errorf("startEpochDay = %q", got)
			}
			fmt.Fprint(w, `[{"FixtureId":17271370,"Competition":"NFL","CompetitionId":500005,"Participant1":"A","Participant2":"B","Participant1IsHome":true}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	sess, err := c.GuestLogin(context.Background())
	if err != nil {
		t.Fatalf("GuestLogin: %v", err)
	}
	if sess.JWT != "jwt-1" || sess.Activated() {
		t.Errorf("session = %+v", sess)
	}
	sess.APIToken = "api-1"
	fx, err := c.FixturesSnapshot(context.Background(), sess, 500005, 20000)
	if err != nil {
		t.Fatalf("FixturesSnapshot: %v", err)
	}
	if len(fx) != 1 || fx[0].FixtureID != 17271370 || !fx[0].Participant1IsHome {
		t.Errorf("fixtures = %+v", fx)
	}
}

func TestActivateRetries(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		wantCalls int32
		wantToken string
		wantErr   bool
	}{
		{"first attempt", []string{"tok"}, 1, "tok", false},
		{"json string", []string{`"tok"`}, 1, "tok", false},
		{"empty then token", []string{"", "  ", "tok"}, 3, "tok", false},
		{"persistently empty", []string{"", "", "", ""}, 3, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				if r.URL.Query().Get("txsig") != "sig" || r.URL.Query().Get("key") != "k" || r.URL.Query().Get("iv") != "i" {
					t.Errorf("query = %s", r.URL.RawQuery)
				}
				fmt.Fprint(w, tt.responses[n-1])
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			tok, err := c.Activate(context.Background(), domain.Session{JWT: "jwt"}, "sig", "k", "i")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, domain.ErrActivationFailed) {
				t.Errorf("err = %v, want ErrActivationFailed", err)
			}
			if tok != tt.wantToken {
				t.Errorf("token = %q, want %q", tok, tt.wantToken)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestActivateRequiresSession(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if _, err := c.Activate(context.Background(), domain.Session{}, "s", "k", "i"); !errors.Is(err, domain.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestStatValidationNormalizesAndVerifies(t *testing.T) {
	h := merkle.SHA256
	day := merkletest.NewScoresDay(1_700_000_000_000, 17271370, []domain.StatValue{
		{Key: 1, Value: 14, Period: 4},
		{Key: 2, Value: 7, Period: 4},
	}, h)
	want, _ := day.Validation(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("fixtureId") != "17271370" || q.Get("seq") != "401" || q.Get("statKey") != "1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(statValidationJSON(want))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.StatValidation(context.Background(), domain.Session{JWT: "j", APIToken: "a"}, 17271370, 401, 1)
	if err != nil {
		t.Fatalf("StatValidation: %v", err)
	}
	if got.Stat.EventStatRoot != want.Stat.EventStatRoot || got.Summary != want.Summary {
		t.Errorf("bundle mismatch: got %+v", got)
	}
	p := domain.StatProof{
		Ts: got.Ts, Summary: got.Summary, SubTreeProof: got.SubTreeProof, MainTreeProof: got.MainTreeProof,
		StatA: got.Stat,
	}
	if err := merkle.VerifyStatProof(p, &day.Root, h); err != nil {
		t.Errorf("decoded bundle does not verify: %v", err)
	}
}

func TestStatValidationSchemaViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ts":1,"statToProve":{"key":1,"value":2,"period":4},"eventStatRoot":[1,2,3]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.StatValidation(context.Background(), domain.Session{}, 1, 1, 1)
	if !errors.Is(err, domain.ErrMalformedPayload) || !errors.Is(err, domain.ErrProtocolMismatch) {
		t.Errorf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestSubmitOffer(t *testing.T) {
	trader := domain.PublicKey{1, 2, 3}
	offer := domain.Offer{
		FixtureID:  17271370,
		Period:     4,
		Predicate:  domain.Predicate{Threshold: 11, Comparison: domain.ComparisonGreaterThan},
		StatA:      domain.StatTerm{Key: 1},
		Stake:      1,
		Odds:       2000,
		Expiration: 1_700_000_000_000,
		Trader:     trader,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Offer     map[string]any `json:"offer"`
			Signature string         `json:"signature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Offer["traderPubkey"] != trader.String() {
			t.Errorf("traderPubkey = %v", body.Offer["traderPubkey"])
		}
		pred := body.Offer["predicate"].(map[string]any)
		if cmp := pred["comparison"].(map[string]any); cmp["type"] != "GreaterThan" {
			t.Errorf("comparison = %v", cmp)
		}
		if body.Offer["binaryOp"] != nil || body.Offer["statB"] != nil {
			t.Errorf("optional fields should be null: %v", body.Offer)
		}
		if body.Signature == "" {
			t.Error("missing signature")
		}
		fmt.Fprint(w, `"Offer 17 accepted"`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	id, err := c.SubmitOffer(context.Background(), domain.Session{}, offer, make([]byte, 64))
	if err != nil {
		t.Fatalf("SubmitOffer: %v", err)
	}
	if id != 17 {
		t.Errorf("offer id = %d, want 17", id)
	}
}

func TestParseOfferID(t *testing.T) {
	tests := []struct {
		body    string
		want    uint32
		wantErr bool
	}{
		{"Offer 5 accepted", 5, false},
		{`"Offer 42 accepted"`, 42, false},
		{`{"offerId":9}`, 9, false},
		{"ok", 0, true},
	}
	for _, tt := range tests {
		got, err := parseOfferID([]byte(tt.body))
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseOfferID(%q) = %d, %v; want %d", tt.body, got, err, tt.want)
		}
	}
}

func TestCheckHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusBadGateway, domain.ErrTransient},
		{http.StatusConflict, domain.ErrOfferUnavailable},
	}
	for _, tt := range tests {
		if err := checkHTTPStatus(tt.code, []byte("x")); !errors.Is(err, tt.want) {
			t.Errorf("checkHTTPStatus(%d) = %v, want %v", tt.code, err, tt.want)
		}
	}
	if err := checkHTTPStatus(http.StatusOK, nil); err != nil {
		t.Errorf("checkHTTPStatus(200) = %v", err)
	}
}

func TestAcceptOfferRejections(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		body        string
		unavailable bool
	}{
		{"lost race", http.StatusBadRequest, `{"error":"Offer 12 already accepted"}`, true},
		{"expired", http.StatusUnprocessableEntity, "offer expired", true},
		{"conflict", http.StatusConflict, "", true},
		{"bad signature", http.StatusBadRequest, "invalid signature", false},
		{"server error", http.StatusInternalServerError, "offer not available", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/trading/accept" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tt.code)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			err := newTestClient(t, srv.URL).AcceptOffer(context.Background(), domain.Session{}, 12, domain.PublicKey{1}, make([]byte, 64))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, domain.ErrOfferUnavailable); got != tt.unavailable {
				t.Errorf("Is(ErrOfferUnavailable) = %v, want %v (err %v)", got, tt.unavailable, err)
			}
		})
	}
}

func TestDecodeTradingEvent(t *testing.T) {
	trader := domain.PublicKey{9}
	offerJSON := fmt.Sprintf(`{"fixtureId":1,"period":4,"predicate":{"threshold":3,"comparison":{"type":"LessThan"}},"binaryOp":{"type":"Add"},"statA":{"key":1},"statB":{"key":2},"stake":10,"odds":1500,"expiration":99,"traderPubkey":%q}`, trader.String())

	ev, err := DecodeTradingEvent(SSEEvent{ID: "7", Event: "NewOffer", Data: []byte(`{"offerId":12,"offer":` + offerJSON + `}`)})
	if err != nil {
		t.Fatalf("NewOffer: %v", err)
	}
	if ev.NewOffer.OfferID != 12 || ev.NewOffer.Offer.Trader != trader || *ev.NewOffer.Offer.BinaryOp != domain.BinaryOpAdd {
		t.Errorf("NewOffer = %+v", ev.NewOffer)
	}

	taker := domain.PublicKey{5}
	ev, err = DecodeTradingEvent(SSEEvent{Event: "TradeMatched", Data: []byte(fmt.Sprintf(`{"tradeId":77,"offerId":12,"offer":%s,"taker":%q}`, offerJSON, taker.String()))})
	if err != nil {
		t.Fatalf("TradeMatched: %v", err)
	}
	if m := ev.TradeMatched; m.TradeID != 77 || m.Maker != trader || m.Taker != taker {
		t.Errorf("TradeMatched = %+v", m)
	}

	tx := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	ev, err = DecodeTradingEvent(SSEEvent{Event: "SigningRequest", Data: []byte(fmt.Sprintf(`{"tradeId":3,"recipientPubkey":%q,"partiallySignedTx":%q}`, taker.String(), tx))})
	if err != nil {
		t.Fatalf("SigningRequest: %v", err)
	}
	if ev.SigningRequest.Recipient != taker || len(ev.SigningRequest.Tx) != 3 {
		t.Errorf("SigningRequest = %+v", ev.SigningRequest)
	}

	if _, err := DecodeTradingEvent(SSEEvent{Event: "Heartbeat", Data: []byte("{}")}); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("unknown event err = %v", err)
	}
	unpaired := strings.Replace(offerJSON, `"statB":{"key":2}`, `"statB":null`, 1)
	if _, err := DecodeTradingEvent(SSEEvent{Event: "NewOffer", Data: []byte(`{"offerId":1,"offer":` + unpaired + `}`)}); !errors.Is(err, domain.ErrInvalidOffer) {
		t.Errorf("unpaired offer err = %v", err)
	}
}

func TestStreamReconnectsWithLastEventID(t *testing.T) {
	var mu sync.Mutex
	var lastIDs []string
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastIDs = append(lastIDs, r.Header.Get("Last-Event-ID"))
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		switch conns.Add(1) {
		case 1:
			fmt.Fprint(w, ": hello\n\nid: 1\nevent: NewOffer\ndata: {\"a\":\ndata: 1}\n\n")
		case 2:
			fmt.Fprint(w, "id: 2\nevent: TradeMatched\ndata: {}\n\n")
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	s, err := c.OpenStream(context.Background(), domain.Session{}, "/stream", StreamOptions{MaxReconnects: 2, ReconnectDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	var got []SSEEvent
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Event != "NewOffer" || string(got[0].Data) != "{\"a\":\n1}" || got[0].ID != "1" {
		t.Errorf("first event = %+v", got[0])
	}
	if !errors.Is(s.Err(), domain.ErrStreamDisruption) {
		t.Errorf("Err = %v, want ErrStreamDisruption", s.Err())
	}
	mu.Lock()
	if len(lastIDs) < 2 || lastIDs[1] != "1" {
		t.Errorf("Last-Event-ID headers = %v", lastIDs)
	}
	mu.Unlock()
	s.Close()
	s.Close()
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	s, err := c.OpenStream(context.Background(), domain.Session{}, "/stream", StreamOptions{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	s.Close()
	s.Close()
	if _, ok := <-s.Events(); ok {
		t.Error("events channel should be closed")
	}
	if s.Err() != nil {
		t.Errorf("Err after Close = %v, want nil", s.Err())
	}
}

func TestOpenStreamUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)
	if _, err := c.TradingStream(context.Background(), domain.Session{}, StreamOptions{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestStreamReconnectUnauthorizedStopsRetrying(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) > 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 1\nevent: NewOffer\ndata: {}\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	s, err := c.OpenStream(context.Background(), domain.Session{JWT: "old"}, "/stream",
		StreamOptions{MaxReconnects: 5, ReconnectDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	for range s.Events() {
	}
	if !errors.Is(s.Err(), domain.ErrUnauthorized) {
		t.Errorf("Err = %v, want ErrUnauthorized", s.Err())
	}
	if got := conns.Load(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
	s.Close()
}
