package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testOffer() Offer {
	return Offer{
		FixtureID:  17271370,
		Period:     4,
		Predicate:  Predicate{Threshold: 11, Comparison: ComparisonGreaterThan},
		StatA:      StatTerm{Key: 1},
		Stake:      1,
		Odds:       2000,
		Expiration: 1_700_000_000_000,
		Trader:     PublicKey{1, 2, 3},
	}
}

func TestOfferValidatePairing(t *testing.T) {
	op := BinaryOpSubtract
	tests := []struct {
		name    string
		mutate  func(o *Offer)
		wantErr bool
	}{
		{"single stat", func(o *Offer) {}, false},
		{"both present", func(o *Offer) { o.StatB = &StatTerm{Key: 2}; o.BinaryOp = &op }, false},
		{"statB without op", func(o *Offer) { o.StatB = &StatTerm{Key: 2} }, true},
		{"op without statB", func(o *Offer) { o.BinaryOp = &op }, true},
		{"bad comparison", func(o *Offer) { o.Predicate.Comparison = 7 }, true},
		{"no trader", func(o *Offer) { o.Trader = PublicKey{} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOffer()
			tt.mutate(&o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOffer) {
				t.Errorf("Validate() error = %v, want ErrInvalidOffer", err)
			}
		})
	}
}

func TestComparisonHolds(t *testing.T) {
	tests := []struct {
		c         Comparison
		value     int64
		threshold int64
		want      bool
	}{
		{ComparisonGreaterThan, 12, 11, true},
		{ComparisonGreaterThan, 11, 11, false},
		{ComparisonLessThan, 6, 5, false},
		{ComparisonLessThan, 4, 5, true},
		{ComparisonEqualTo, 5, 5, true},
		{ComparisonEqualTo, -5, 5, false},
		{Comparison(9), 5, 5, false},
	}
	for _, tt := range tests {
		if got := tt.c.Holds(tt.value, tt.threshold); got != tt.want {
			t.Errorf("%v.Holds(%d, %d) = %v, want %v", tt.c, tt.value, tt.threshold, got, tt.want)
		}
	}
}

func TestBinaryOpApply(t *testing.T) {
	got, err := BinaryOpSubtract.Apply(11, 5)
	if err != nil || got != 6 {
		t.Errorf("Subtract.Apply(11, 5) = %d, %v, want 6", got, err)
	}
	got, err = BinaryOpAdd.Apply(11, 5)
	if err != nil || got != 16 {
		t.Errorf("Add.Apply(11, 5) = %d, %v, want 16", got, err)
	}
	if _, err := BinaryOp(3).Apply(1, 1); err == nil {
		t.Error("unknown op: expected error")
	}
}

func TestComparisonJSON(t *testing.T) {
	b, err := json.Marshal(ComparisonLessThan)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"LessThan"}` {
		t.Errorf("Marshal = %s", b)
	}
	for _, in := range []string{`{"type":"EqualTo"}`, `{"equalTo":{}}`, `"EqualTo"`} {
		var c Comparison
		if err := json.Unmarshal([]byte(in), &c); err != nil {
			t.Fatalf("Unmarshal(%s): %v", in, err)
		}
		if c != ComparisonEqualTo {
			t.Errorf("Unmarshal(%s) = %v, want EqualTo", in, c)
		}
	}
	var c Comparison
	if err := json.Unmarshal([]byte(`{"a":{},"b":{}}`), &c); err == nil {
		t.Error("ambiguous variant: expected error")
	}
}

func TestOfferStakeMath(t *testing.T) {
	o := testOffer()
	o.Stake = 100
	o.Odds = 2500
	if got := o.TakerStake(); got != 150 {
		t.Errorf("TakerStake() = %d, want 150", got)
	}
	if got := o.Payout().String(); got != "250" {
		t.Errorf("Payout() = %s, want 250", got)
	}
	o.Odds = 900
	if got := o.TakerStake(); got != 0 {
		t.Errorf("TakerStake() with odds below 1 = %d, want 0", got)
	}
}

func TestOfferExpired(t *testing.T) {
	o := testOffer()
	exp := o.ExpiresAt()
	if o.Expired(exp.Add(-time.Millisecond)) {
		t.Error("Expired before expiration")
	}
	if !o.Expired(exp) {
		t.Error("not Expired at expiration")
	}
}

func TestPublicKeyBase58RoundTrip(t *testing.T) {
	pk := PublicKey{9, 8, 7, 6}
	got, err := PublicKeyFromBase58(pk.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != pk {
		t.Errorf("round trip = %v, want %v", got, pk)
	}
	if _, err := PublicKeyFromBase58("abc"); err == nil {
		t.Error("short key: expected error")
	}
}
