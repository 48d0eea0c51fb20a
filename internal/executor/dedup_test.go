package executor

import (
	"testing"
	"time"
)

func TestDedupWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("NewOffer:1") {
		t.Error("first delivery reported as duplicate")
	}
	if !d.IsDuplicate("NewOffer:1") {
		t.Error("replay not detected")
	}
	if d.IsDuplicate("") || d.IsDuplicate("") {
		t.Error("empty key treated as duplicate")
	}

	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("NewOffer:1") {
		t.Error("expired key still duplicate")
	}

	d.IsDuplicate("TradeMatched:9")
	now = now.Add(2 * time.Minute)
	if got := d.Cleanup(); got != 2 {
		t.Errorf("Cleanup removed %d, want 2", got)
	}
	if d.Len() != 0 {
		t.Errorf("Len = %d, want 0", d.Len())
	}

	d.IsDuplicate("SigningRequest:3")
	d.Forget("SigningRequest:3")
	if d.IsDuplicate("SigningRequest:3") {
		t.Error("forgotten key still duplicate")
	}
}
