package membus

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

func TestPublishSubscribePattern(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New()

	all, err := b.Subscribe(ctx, "txoracle:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	scores, _ := b.Subscribe(ctx, domain.ChannelScores)

	_ = b.Publish(ctx, domain.ChannelTradingEvents, []byte(`{"n":1}`))
	_ = b.Publish(ctx, domain.ChannelScores, []byte(`{"n":2}`))

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case got := <-all:
			if string(got) != want {
				t.Errorf("all got %s, want %s", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting on pattern subscriber")
		}
	}
	if got := <-scores; string(got) != `{"n":2}` {
		t.Errorf("scores got %s", got)
	}

	cancel()
	select {
	case _, ok := <-scores:
		if ok {
			t.Error("channel still open after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestDurableChannelStream(t *testing.T) {
	ctx := context.Background()
	b := New(domain.ChannelSettlements)

	for _, p := range []string{"a", "b", "c"} {
		if err := b.Publish(ctx, domain.ChannelSettlements, []byte(p)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	_ = b.Publish(ctx, domain.ChannelScores, []byte("not durable"))

	first, err := b.StreamRead(ctx, domain.ChannelSettlements, "0", 2)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(first) != 2 || string(first[0].Payload) != "a" {
		t.Fatalf("first page = %+v", first)
	}
	rest, _ := b.StreamRead(ctx, domain.ChannelSettlements, first[1].ID, 10)
	if len(rest) != 1 || string(rest[0].Payload) != "c" {
		t.Errorf("rest = %+v, want [c]", rest)
	}
	if msgs, _ := b.StreamRead(ctx, domain.ChannelScores, "0", 10); len(msgs) != 0 {
		t.Errorf("scores stream has %d entries, want 0", len(msgs))
	}
}
