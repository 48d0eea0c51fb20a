package feed

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
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/txoracle/internal/crypto"
	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/offer"
	"github.com/alanyoungcy/txoracle/internal/platform/txodds"
	"github.com/alanyoungcy/txoracle/internal/service"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingReactor struct {
	mu        sync.Mutex
	self      domain.PublicKey
	acceptErr error
	accepted  []uint32
	matched   []uint64
	cosigned  []uint64
	onAccept  func()
}

func (r *recordingReactor) Address() domain.PublicKey { return r.self }

func (r *recordingReactor) Accept(_ context.Context, _ domain.Session, id uint32, _ domain.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, id)
	if r.onAccept != nil {
		r.onAccept()
	}
	return r.acceptErr
}

func (r *recordingReactor) CoSign(_ context.Context, _ domain.Session, req domain.SigningRequestEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cosigned = append(r.cosigned, req.TradeID)
	return nil
}

func (r *recordingReactor) RecordMatch(_ context.Context, ev domain.TradeMatchedEvent) (domain.Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matched = append(r.matched, ev.TradeID)
	t := domain.Trade{ID: ev.TradeID, OfferID: ev.OfferID, Offer: ev.Offer, Maker: ev.Maker, Taker: ev.Taker}
	return t, ev.Maker == r.self || ev.Taker == r.self
}

func (r *recordingReactor) ExpireOffers(context.Context) (int, error) { return 0, nil }

type recordingSettler struct {
	mu   sync.Mutex
	sels []domain.StatSelector
}

func (s *recordingSettler) Settle(_ context.Context, _ domain.Session, t domain.Trade, sel domain.StatSelector) (service.SettlementOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sels = append(s.sels, sel)
	return service.SettlementOutcome{TradeID: t.ID, Won: true}, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func sseFrame(id, event string, data any) string {
	raw, _ := json.Marshal(data)
	return fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", id, event, raw)
}

func newClient(t *testing.T, url string) *txodds.Client {
	t.Helper()
	c, err := txodds.NewClient(txodds.Config{BaseURL: url}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func signedOffer(t *testing.T, maker *crypto.Signer) (domain.Offer, string) {
	t.Helper()
	o := domain.Offer{
		FixtureID:  17271370,
		Period:     4,
		Predicate:  domain.Predicate{Threshold: 11, Comparison: domain.ComparisonGreaterThan},
		StatA:      domain.StatTerm{Key: 1},
		Stake:      100,
		Odds:       2000,
		Expiration: uint64(time.Now().Add(time.Hour).UnixMilli()),
		Trader:     maker.PublicKey(),
	}
	sig, err := offer.Sign(o, maker)
	if err != nil {
		t.Fatal(err)
	}
	return o, base58.Encode(sig)
}

func TestTradingListenerReactsInOrder(t *testing.T) {
	maker, _ := crypto.GenerateSigner()
	self, _ := crypto.GenerateSigner()
	o, sig := signedOffer(t, maker)
	api := txodds.NewAPIOffer(o)
	tx := base64.StdEncoding.EncodeToString([]byte("tx"))

	body := sseFrame("1", "NewOffer", map[string]any{"offerId": 12, "offer": api, "signature": sig}) +
		sseFrame("2", "NewOffer", map[string]any{"offerId": 12, "offer": api, "signature": sig}) +
		sseFrame("3", "NewOffer", map[string]any{"offerId": 13, "offer": api, "signature": base58.Encode(make([]byte, 64))}) +
		sseFrame("4", "TradeMatched", map[string]any{"tradeId": 77, "offerId": 12, "offer": api, "acceptingTraderPubkey": self.Address()}) +
		sseFrame("5", "TradeMatched", map[string]any{"tradeId": 78, "offerId": 14, "offer": api, "taker": domain.PublicKey{4}.String()}) +
		sseFrame("6", "SigningRequest", map[string]any{"tradeId": 77, "recipientPubkey": self.Address(), "partiallySignedTx": tx}) +
		sseFrame("7", "SigningRequest", map[string]any{"tradeId": 77, "recipientPubkey": maker.Address(), "partiallySignedTx": tx})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != txodds.TradingStreamPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
	defer srv.Close()

	reactor := &recordingReactor{self: self.PublicKey()}
	settler := &recordingSettler{}
	bus := &memBus{}
	l := NewTradingListener(ListenerConfig{
		Name:       "trader-b",
		Accept:     AcceptPolicy{Enabled: true},
		AutoSettle: true,
		SettleSeq:  401,
		CoSign:     true,
	}, newClient(t, srv.URL), domain.Session{JWT: "jwt"}, reactor, settler, bus, nil, testLogger())

	err := l.Run(context.Background())
	if !errors.Is(err, domain.ErrStreamDisruption) {
		t.Fatalf("Run err = %v, want ErrStreamDisruption", err)
	}

	if len(reactor.accepted) != 1 || reactor.accepted[0] != 12 {
		t.Errorf("accepted = %v, want [12]", reactor.accepted)
	}
	if len(reactor.matched) != 2 {
		t.Errorf("matched = %v", reactor.matched)
	}
	if len(settler.sels) != 1 || settler.sels[0].Seq != 401 || settler.sels[0].FixtureID != o.FixtureID {
		t.Errorf("settlements = %+v", settler.sels)
	}
	if len(reactor.cosigned) != 1 {
		t.Errorf("cosigned = %v", reactor.cosigned)
	}
	if got := bus.count(domain.ChannelTradingEvents); got != 6 {
		t.Errorf("published = %d, want 6", got)
	}
}

func TestTradingListenerLateAcceptanceIsNotFatal(t *testing.T) {
	maker, _ := crypto.GenerateSigner()
	self, _ := crypto.GenerateSigner()
	o, sig := signedOffer(t, maker)
	api := txodds.NewAPIOffer(o)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseFrame("1", "NewOffer", map[string]any{"offerId": 1, "offer": api, "signature": sig}))
		io.WriteString(w, sseFrame("2", "NewOffer", map[string]any{"offerId": 2, "offer": api, "signature": sig}))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reactor := &recordingReactor{self: self.PublicKey(), acceptErr: domain.ErrOfferUnavailable}
	reactor.onAccept = func() {
		if len(reactor.accepted) == 2 {
			cancel()
		}
	}
	l := NewTradingListener(ListenerConfig{Name: "a", Accept: AcceptPolicy{Enabled: true}},
		newClient(t, srv.URL), domain.Session{}, reactor, nil, nil, nil, testLogger())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run err = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	if len(reactor.accepted) != 2 {
		t.Errorf("accepted = %v, want both offers attempted", reactor.accepted)
	}
}

// authServer records the bearer token of every trading stream connection and
// rejects the tokens in revoked with 401.
func authServer(t *testing.T, revoked ...string) (*httptest.Server, <-chan string) {
	t.Helper()
	seen := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		for _, tok := range revoked {
			if auth == tok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		seen <- auth
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func nextToken(t *testing.T, seen <-chan string) string {
	t.Helper()
	select {
	case tok := <-seen:
		return tok
	case <-time.After(5 * time.Second):
		t.Fatal("no stream connection")
		return ""
	}
}

func TestTradingListenerRenewsExpiringSession(t *testing.T) {
	srv, seen := authServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var renewals int
	l := NewTradingListener(ListenerConfig{Name: "a", RenewBefore: time.Millisecond},
		newClient(t, srv.URL), domain.Session{JWT: "jwt-1", ExpiresAt: time.Now().Add(100 * time.Millisecond)},
		&recordingReactor{}, nil, nil, nil, testLogger())
	l.RenewWith(func(context.Context) (domain.Session, error) {
		renewals++
		return domain.Session{JWT: "jwt-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	if got := nextToken(t, seen); got != "jwt-1" {
		t.Errorf("first connection token = %q, want jwt-1", got)
	}
	if got := nextToken(t, seen); got != "jwt-2" {
		t.Errorf("second connection token = %q, want jwt-2", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run err = %v, want nil", err)
	}
	if renewals != 1 {
		t.Errorf("renewals = %d, want 1", renewals)
	}
}

func TestTradingListenerRenewsRejectedSession(t *testing.T) {
	srv, seen := authServer(t, "jwt-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewTradingListener(ListenerConfig{Name: "a"}, newClient(t, srv.URL),
		domain.Session{JWT: "jwt-1"}, &recordingReactor{}, nil, nil, nil, testLogger())
	l.RenewWith(func(context.Context) (domain.Session, error) {
		return domain.Session{JWT: "jwt-2"}, nil
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	if got := nextToken(t, seen); got != "jwt-2" {
		t.Errorf("connection token = %q, want jwt-2", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run err = %v, want nil", err)
	}
}

func TestTradingListenerRejectedAfterRenewalIsFatal(t *testing.T) {
	srv, _ := authServer(t, "jwt-1")

	var renewals int
	l := NewTradingListener(ListenerConfig{Name: "a"}, newClient(t, srv.URL),
		domain.Session{JWT: "jwt-1"}, &recordingReactor{}, nil, nil, nil, testLogger())
	l.RenewWith(func(context.Context) (domain.Session, error) {
		renewals++
		return domain.Session{JWT: "jwt-1"}, nil
	})

	err := l.Run(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Run err = %v, want ErrUnauthorized", err)
	}
	if renewals != 1 {
		t.Errorf("renewals = %d, want 1", renewals)
	}
}

func TestTradingListenerWithoutRenewerStopsOnRejection(t *testing.T) {
	srv, _ := authServer(t, "jwt-1")
	l := NewTradingListener(ListenerConfig{Name: "a"}, newClient(t, srv.URL),
		domain.Session{JWT: "jwt-1"}, &recordingReactor{}, nil, nil, nil, testLogger())
	if err := l.Run(context.Background()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("Run err = %v, want ErrUnauthorized", err)
	}
}

func TestAcceptPolicy(t *testing.T) {
	maker, _ := crypto.GenerateSigner()
	o, sig := signedOffer(t, maker)
	rawSig, _ := base58.Decode(sig)
	now := time.Now()
	ev := domain.NewOfferEvent{OfferID: 1, Offer: o, Signature: rawSig}

	tests := []struct {
		name   string
		policy AcceptPolicy
		self   domain.PublicKey
		ev     domain.NewOfferEvent
		want   bool
	}{
		{"disabled", AcceptPolicy{}, domain.PublicKey{1}, ev, false},
		{"accepts", AcceptPolicy{Enabled: true}, domain.PublicKey{1}, ev, true},
		{"own offer", AcceptPolicy{Enabled: true}, maker.PublicKey(), ev, false},
		{"stake limit", AcceptPolicy{Enabled: true, MaxStake: 50}, domain.PublicKey{1}, ev, false},
		{"odds limit", AcceptPolicy{Enabled: true, MinOdds: 2500}, domain.PublicKey{1}, ev, false},
		{"fixture filter", AcceptPolicy{Enabled: true, FixtureIDs: []uint64{1}}, domain.PublicKey{1}, ev, false},
		{"fixture followed", AcceptPolicy{Enabled: true, FixtureIDs: []uint64{o.FixtureID}}, domain.PublicKey{1}, ev, true},
		{"bad signature", AcceptPolicy{Enabled: true}, domain.PublicKey{1},
			domain.NewOfferEvent{OfferID: 1, Offer: o, Signature: make([]byte, 64)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.policy.Allows(tt.ev, tt.self, now)
			if got != tt.want {
				t.Errorf("Allows = %v (%s), want %v", got, reason, tt.want)
			}
		})
	}
}

func TestScoresRelayFiltersAndSurfacesEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != txodds.ScoresStreamPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		var b strings.Builder
		b.WriteString(sseFrame("1", "score", map[string]any{"FixtureId": 1, "Seq": 10, "Action": "goal"}))
		b.WriteString(sseFrame("2", "score", map[string]any{"FixtureId": 2, "Seq": 11, "Action": "goal"}))
		b.WriteString(sseFrame("3", "score", map[string]any{"FixtureId": 1, "Seq": 12, "Action": "corner"}))
		io.WriteString(w, b.String())
	}))
	defer srv.Close()

	bus := &memBus{}
	var got []uint64
	relay := NewScoresRelay(newClient(t, srv.URL), domain.Session{}, txodds.StreamOptions{}, bus, []uint64{1}, testLogger()).
		OnUpdate(func(_ context.Context, u domain.ScoreUpdate) { got = append(got, u.Seq) })

	if err := relay.Run(context.Background()); !errors.Is(err, domain.ErrStreamDisruption) {
		t.Errorf("Run err = %v, want ErrStreamDisruption", err)
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 12 {
		t.Errorf("relayed seqs = %v, want [10 12]", got)
	}
	if n := bus.count(domain.ChannelScores); n != 2 {
		t.Errorf("published = %d, want 2", n)
	}
}
