package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/platform/txodds"
)

// ScoresSource opens the live scores stream.
type ScoresSource interface {
	ScoresStream(ctx context.Context, s domain.Session, opts txodds.StreamOptions) (*txodds.Stream, error)
}

// ScoreHandler is called for each decoded score update.
type ScoreHandler func(ctx context.Context, u domain.ScoreUpdate)

// ScoresRelay decodes the scores stream and republishes each update on the
// bus and to an optional handler.
type ScoresRelay struct {
	source   ScoresSource
	session  domain.Session
	opts     txodds.StreamOptions
	bus      domain.SignalBus
	fixtures map[uint64]bool
	onUpdate ScoreHandler
	logger   *slog.Logger
}

// NewScoresRelay creates a relay. An empty fixtures list relays every fixture.
func NewScoresRelay(source ScoresSource, session domain.Session, opts txodds.StreamOptions, bus domain.SignalBus, fixtures []uint64, logger *slog.Logger) *ScoresRelay {
	set := make(map[uint64]bool, len(fixtures))
	for _, id := range fixtures {
		set[id] = true
	}
	return &ScoresRelay{
		source:   source,
		session:  session,
		opts:     opts,
		bus:      bus,
		fixtures: set,
		logger:   logger.With(slog.String("component", "scores_relay")),
	}
}

// OnUpdate registers a handler invoked after publishing.
func (r *ScoresRelay) OnUpdate(h ScoreHandler) *ScoresRelay {
	r.onUpdate = h
	return r
}

// Run relays until ctx is cancelled. A stream that ends otherwise is returned
// as an error.
func (r *ScoresRelay) Run(ctx context.Context) error {
	stream, err := r.source.ScoresStream(ctx, r.session, r.opts)
	if err != nil {
		return fmt.Errorf("feed: open scores stream: %w", err)
	}
	defer stream.Close()
	r.logger.Info("scores relay started")
	defer r.logger.Info("scores relay stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := stream.Err(); err != nil {
					return fmt.Errorf("feed: scores stream: %w", err)
				}
				return fmt.Errorf("feed: scores stream: %w", domain.ErrStreamDisruption)
			}
			if err := r.handle(ctx, ev); err != nil {
				r.logger.Debug("scores relay: handle event failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(ev.Data)),
				)
			}
		}
	}
}

func (r *ScoresRelay) handle(ctx context.Context, ev txodds.SSEEvent) error {
	u, err := txodds.DecodeScoreUpdate(ev)
	if err != nil {
		return err
	}
	if len(r.fixtures) > 0 && !r.fixtures[u.FixtureID] {
		return nil
	}
	if r.bus != nil {
		payload, err := json.Marshal(map[string]any{"type": "score_update", "data": u})
		if err != nil {
			return err
		}
		if err := r.bus.Publish(ctx, domain.ChannelScores, payload); err != nil {
			return err
		}
	}
	if r.onUpdate != nil {
		r.onUpdate(ctx, u)
	}
	return nil
}
