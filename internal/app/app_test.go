package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/txoracle/internal/config"
	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
	"github.com/alanyoungcy/txoracle/internal/merkle/merkletest"
	"github.com/alanyoungcy/txoracle/internal/platform/txodds"
)

const (
	testFixture = 17271370
	testSeq     = 401
	testTradeID = 77
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

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

// fakeProvider serves guest login, activation, stat validation bundles for
// one scores day and a trading stream that announces a single match.
type fakeProvider struct {
	t          *testing.T
	day        *merkletest.ScoresDay
	matched    atomic.Value // []byte TradeMatched payload
	logins     atomic.Int32
	validation atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	return &fakeProvider{
		t: t,
		day: merkletest.NewScoresDay(1_700_000_000_000, testFixture, []domain.StatValue{
			{Key: 1, Value: 14, Period: 4},
			{Key: 2, Value: 7, Period: 4},
		}, merkle.SHA256),
	}
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/guest/start":
		n := f.logins.Add(1)
		fmt.Fprintf(w, `{"token":"jwt-%d"}`, n)
	case "/api/token/activate":
		if r.URL.Query().Get("txsig") == "" {
			f.t.Errorf("activation without txsig: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, "api-token")
	case "/api/scores/stat-validation":
		f.validation.Add(1)
		q := r.URL.Query()
		if q.Get("fixtureId") != fmt.Sprint(testFixture) || q.Get("seq") != fmt.Sprint(testSeq) {
			f.t.Errorf("stat-validation query = %s", r.URL.RawQuery)
		}
		var key uint16
		fmt.Sscan(q.Get("statKey"), &key)
		v, ok := f.day.Validation(key)
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(statValidationJSON(v))
	case txodds.TradingStreamPath:
		w.Header().Set("Content-Type", "text/event-stream")
		if payload, ok := f.matched.Load().([]byte); ok {
			fmt.Fprintf(w, "id: 1\nevent: TradeMatched\ndata: %s\n\n", payload)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeProvider) announceMatch(t *testing.T, o domain.Offer, taker domain.PublicKey) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"tradeId": testTradeID,
		"offerId": 12,
		"offer":   txodds.NewAPIOffer(o),
		"taker":   taker.String(),
	})
	if err != nil {
		t.Fatalf("marshal match: %v", err)
	}
	f.matched.Store(payload)
}

func paperConfig(baseURL, mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Provider.BaseURL = baseURL
	cfg.Provider.ActivationDelay.Duration = time.Millisecond
	cfg.Ledger.Backend = "paper"
	cfg.Trading.SettleSeq = testSeq
	cfg.Stream.MaxReconnects = 0
	cfg.Participants = []config.ParticipantConfig{
		{Name: "alice", Subscribe: "stake", AutoSettle: true},
		{Name: "bob", Subscribe: "stake", AutoSettle: true},
	}
	return &cfg
}

func TestTradeModeSettlesOnPaperLedger(t *testing.T) {
	fp := newFakeProvider(t)
	srv := httptest.NewServer(fp)
	defer srv.Close()

	cfg := paperConfig(srv.URL, "trade")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps, cleanup, err := Wire(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	alice, _ := deps.Participant("alice")
	bob, _ := deps.Participant("bob")
	offer := domain.Offer{
		FixtureID:  testFixture,
		Period:     4,
		Predicate:  domain.Predicate{Threshold: 11, Comparison: domain.ComparisonGreaterThan},
		StatA:      domain.StatTerm{Key: 1},
		Stake:      100,
		Odds:       2500,
		Expiration: uint64(time.Now().Add(time.Hour).UnixMilli()),
		Trader:     alice.Signer.PublicKey(),
	}
	fp.announceMatch(t, offer, bob.Signer.PublicKey())

	a := New(cfg, testLogger())
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.RunMode(runCtx, deps) }()

	var trade domain.Trade
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		trade, err = deps.Trades.GetByID(ctx, testTradeID)
		if err == nil && trade.Status == domain.TradeStatusSettled {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	stop()
	if err := <-done; err != nil {
		t.Fatalf("RunMode: %v", err)
	}

	if trade.Status != domain.TradeStatusSettled {
		t.Fatalf("trade status = %q, want settled", trade.Status)
	}
	if trade.Winner != alice.Signer.PublicKey() {
		t.Errorf("winner = %s, want maker %s", trade.Winner, alice.Signer.PublicKey())
	}
	if !strings.HasPrefix(trade.SettleSignature, "paper-settle_trade-") {
		t.Errorf("settle signature = %q", trade.SettleSignature)
	}
	if w, ok := deps.Book.EscrowWinner(testTradeID); !ok || w != alice.Signer.PublicKey() {
		t.Errorf("escrow winner = %s, %v", w, ok)
	}
	if got := deps.Book.Balance(alice.Signer.PublicKey()); got != 250 {
		t.Errorf("maker balance = %d, want escrow 250 paid once", got)
	}
	if got := deps.Book.Balance(bob.Signer.PublicKey()); got != 0 {
		t.Errorf("taker balance = %d, want 0", got)
	}
	if got := fp.logins.Load(); got != 2 {
		t.Errorf("guest logins = %d, want one per participant", got)
	}
}

func TestSettleModeRebuildsTradeWithoutStore(t *testing.T) {
	fp := newFakeProvider(t)
	srv := httptest.NewServer(fp)
	defer srv.Close()

	sheet := filepath.Join(t.TempDir(), "offer.yaml")
	terms := fmt.Sprintf("fixture_id: %d\nperiod: 4\nstat_a: 1\ncomparison: greater_than\nthreshold: 11\nstake: 100\nodds: 2500\nexpires_in: 1h\n", testFixture)
	if err := os.WriteFile(sheet, []byte(terms), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := paperConfig(srv.URL, "settle")
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()
	alice, _ := deps.Participant("alice")
	bob, _ := deps.Participant("bob")
	cfg.Task = config.TaskConfig{
		Participant: "alice",
		TradeID:     testTradeID,
		TermSheet:   sheet,
		Taker:       bob.Signer.Address(),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var out bytes.Buffer
	a := New(cfg, testLogger())
	a.SetOutput(&out)
	if err := a.RunMode(ctx, deps); err != nil {
		t.Fatalf("RunMode: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("report: %v\n%s", err, out.String())
	}
	if res["won"] != true || res["winner"] != alice.Signer.Address() {
		t.Errorf("report = %v", res)
	}
	if sig, _ := res["signature"].(string); !strings.HasPrefix(sig, "paper-settle_trade-") {
		t.Errorf("signature = %v", res["signature"])
	}
	if got := deps.Book.Balance(alice.Signer.PublicKey()); got != 250 {
		t.Errorf("maker balance = %d, want 250", got)
	}

	out.Reset()
	if err := a.RunMode(ctx, deps); err != nil {
		t.Fatalf("second RunMode: %v", err)
	}
	res = nil
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("report: %v", err)
	}
	if res["already_settled"] != true {
		t.Errorf("second report = %v, want already_settled", res)
	}
	if got := deps.Book.Balance(alice.Signer.PublicKey()); got != 250 {
		t.Errorf("maker balance after retry = %d, want 250", got)
	}
}

func TestValidateModeStatOnPaperLedger(t *testing.T) {
	fp := newFakeProvider(t)
	srv := httptest.NewServer(fp)
	defer srv.Close()

	cfg := paperConfig(srv.URL, "validate")
	cfg.Task = config.TaskConfig{
		Validate:   "stat",
		FixtureID:  testFixture,
		Seq:        testSeq,
		StatKey:    1,
		StatKeyB:   2,
		Op:         "add",
		Comparison: "gt",
		Threshold:  20,
	}
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	var out bytes.Buffer
	a := New(cfg, testLogger())
	a.SetOutput(&out)
	if err := a.RunMode(ctx, deps); err != nil {
		t.Fatalf("RunMode: %v", err)
	}

	var res map[string]any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, out.String())
	}
	if sig, _ := res["signature"].(string); !strings.HasPrefix(sig, "paper-validate_stat-") {
		t.Errorf("signature = %v", res["signature"])
	}
	if got := fp.validation.Load(); got != 2 {
		t.Errorf("stat-validation calls = %d, want 2 for a combined stat", got)
	}

	// 14 + 7 is not above 21.
	a.cfg.Task.Threshold = 21
	out.Reset()
	if err := a.RunMode(ctx, deps); err == nil {
		t.Error("RunMode with a failing predicate should error")
	}
}

func TestTokensModeStatus(t *testing.T) {
	cfg := paperConfig("http://127.0.0.1:1", "tokens")
	cfg.Task.Tokens = "status"
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	var out bytes.Buffer
	a := New(cfg, testLogger())
	a.SetOutput(&out)
	if err := a.RunMode(ctx, deps); err != nil {
		t.Fatalf("RunMode: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("report: %v", err)
	}
	if res["staked"] != false || res["trading_vault"] != true {
		t.Errorf("status = %v", res)
	}
	alice, _ := deps.Participant("")
	if res["authority"] != alice.Signer.Address() {
		t.Errorf("authority = %v, want first participant %s", res["authority"], alice.Signer.Address())
	}
}

func TestStatTask(t *testing.T) {
	sel, pred, err := statTask(1, 0, 3, 4, "subtract", "lt", 2)
	if err != nil {
		t.Fatalf("statTask: %v", err)
	}
	if sel.StatKeyB == nil || *sel.StatKeyB != 4 || sel.Op == nil || *sel.Op != domain.BinaryOpSubtract {
		t.Errorf("selector = %+v", sel)
	}
	if pred.Comparison != domain.ComparisonLessThan || pred.Threshold != 2 {
		t.Errorf("predicate = %+v", pred)
	}
	if _, _, err := statTask(1, 0, 3, 0, "", "between", 2); err == nil {
		t.Error("unknown comparison should fail")
	}
}

func TestParticipantLookup(t *testing.T) {
	deps := &Dependencies{Participants: []*Participant{
		{Config: config.ParticipantConfig{Name: "alice"}},
		{Config: config.ParticipantConfig{Name: "bob"}},
	}}
	if p, err := deps.Participant("bob"); err != nil || p.Config.Name != "bob" {
		t.Errorf("Participant(bob) = %v, %v", p, err)
	}
	if p, err := deps.Participant(""); err != nil || p.Config.Name != "alice" {
		t.Errorf("Participant(\"\") = %v, %v", p, err)
	}
	if _, err := deps.Participant("carol"); err == nil {
		t.Error("unknown participant should fail")
	}
	if _, err := (&Dependencies{}).Participant(""); err == nil {
		t.Error("no participants should fail")
	}
}
