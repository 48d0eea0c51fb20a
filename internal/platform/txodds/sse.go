package txodds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// SSEEvent is one server-sent event.
type SSEEvent struct {
	ID    string
	Event string
	Data  []byte
}

// StreamOptions controls reconnection of a Stream.
type StreamOptions struct {
	// MaxReconnects bounds consecutive reconnect attempts after the stream
	// drops. Zero disables reconnection.
	MaxReconnects  int
	ReconnectDelay time.Duration
	Buffer         int
}

// Stream is a server-sent event subscription. Events are delivered in
// connection order on Events; the channel is closed when the stream ends,
// after which Err reports why.
type Stream struct {
	events chan SSEEvent
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Events returns the delivery channel.
func (s *Stream) Events() <-chan SSEEvent { return s.events }

// Err returns the terminal error once Events is closed. It is nil after a
// Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the connection and waits for the reader to exit. It may be
// called any number of times.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (c *Client) connectStream(ctx context.Context, sess domain.Session, path, lastID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	authorize(req, sess)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}
	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, checkHTTPStatus(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// OpenStream subscribes to an event stream path. The first connection is
// made synchronously so authorization problems surface to the caller.
func (c *Client) OpenStream(ctx context.Context, sess domain.Session, path string, opts StreamOptions) (*Stream, error) {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	ctx, cancel := context.WithCancel(ctx)
	body, err := c.connectStream(ctx, sess, path, "")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("txodds: open stream %s: %w", path, err)
	}
	s := &Stream{
		events: make(chan SSEEvent, opts.Buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.pump(ctx, s, sess, path, body, opts)
	return s, nil
}

func (c *Client) pump(ctx context.Context, s *Stream, sess domain.Session, path string, body io.ReadCloser, opts StreamOptions) {
	defer close(s.done)
	defer close(s.events)

	logger := c.logger.With(slog.String("stream", path))
	var lastID string
	failures := 0
	for {
		delivered, err := readEvents(ctx, body, s.events, &lastID)
		body.Close()
		if ctx.Err() != nil {
			return
		}
		if delivered > 0 {
			failures = 0
		}
		if err == nil {
			err = io.EOF
		}
		logger.WarnContext(ctx, "txodds: stream dropped", slog.String("error", err.Error()), slog.String("last_event_id", lastID))

		for {
			failures++
			if failures > opts.MaxReconnects {
				s.fail(fmt.Errorf("txodds: stream %s: %w after %d reconnects: %w",
					path, domain.ErrStreamDisruption, opts.MaxReconnects, err))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.ReconnectDelay):
			}
			body, err = c.connectStream(ctx, sess, path, lastID)
			if err == nil {
				logger.InfoContext(ctx, "txodds: stream reconnected", slog.Int("attempt", failures))
				break
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrUnauthorized) {
				s.fail(fmt.Errorf("txodds: stream %s: reconnect: %w", path, err))
				return
			}
			logger.WarnContext(ctx, "txodds: stream reconnect failed", slog.Int("attempt", failures), slog.String("error", err.Error()))
		}
	}
}

// readEvents parses the text/event-stream format from r until it ends,
// delivering complete events to out.
func readEvents(ctx context.Context, r io.Reader, out chan<- SSEEvent, lastID *string) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var ev SSEEvent
	var data []string
	delivered := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				ev.Data = []byte(strings.Join(data, "\n"))
				if ev.ID != "" {
					*lastID = ev.ID
				} else {
					ev.ID = *lastID
				}
				select {
				case out <- ev:
					delivered++
				case <-ctx.Done():
					return delivered, ctx.Err()
				}
			}
			ev, data = SSEEvent{}, data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = value
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return delivered, err
	}
	return delivered, nil
}
