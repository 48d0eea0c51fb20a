// Package membus is an in-process domain.SignalBus used when Redis is not
// configured. Subscribers that fall behind lose messages; streams are kept in
// memory with the same trimming as the Redis bus.
package membus

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

const (
	subscriberBuffer = 128
	streamMaxLen     = 10000
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Bus implements domain.SignalBus in memory.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string][]domain.StreamMessage
	seq     uint64
	durable map[string]bool
}

// New creates a Bus. Publishes on the durable channels are also appended to
// a stream of the same name.
func New(durable ...string) *Bus {
	set := make(map[string]bool, len(durable))
	for _, ch := range durable {
		set[ch] = true
	}
	return &Bus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		durable: set,
	}
}

// Publish delivers payload to every matching subscriber without blocking.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := append([]byte(nil), payload...)
	b.mu.RLock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- msg:
		default:
		}
	}
	b.mu.RUnlock()

	if b.durable[channel] {
		return b.StreamAppend(ctx, channel, payload)
	}
	return nil
}

// Subscribe returns the payloads published on channels matching pattern
// until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("membus: subscribe %s: %w", pattern, err)
	}
	s := &subscriber{pattern: pattern, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload to stream.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > streamMaxLen {
		msgs = msgs[len(msgs)-streamMaxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := parseID(lastID)
	if err != nil {
		return nil, fmt.Errorf("membus: stream read %s: %w", stream, err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := parseID(m.ID)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func parseID(id string) (uint64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, nil
	}
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	return strconv.ParseUint(id, 10, 64)
}

var _ domain.SignalBus = (*Bus)(nil)
