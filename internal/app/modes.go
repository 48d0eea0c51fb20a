package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/feed"
	"github.com/alanyoungcy/txoracle/internal/merkle"
	"github.com/alanyoungcy/txoracle/internal/notify"
	"github.com/alanyoungcy/txoracle/internal/offer"
	"github.com/alanyoungcy/txoracle/internal/platform/txodds"
	"github.com/alanyoungcy/txoracle/internal/server"
	"github.com/alanyoungcy/txoracle/internal/server/handler"
	"github.com/alanyoungcy/txoracle/internal/server/ws"
	"github.com/alanyoungcy/txoracle/internal/service"
)

// TradeMode runs one trading listener per participant. Each listener
// auto-accepts, co-signs and settles according to its participant config.
// The monitor server runs alongside when server.enabled is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Int("participants", len(deps.Participants)))

	g, ctx := errgroup.WithContext(ctx)

	for _, p := range deps.Participants {
		sess, err := a.session(ctx, deps, p)
		if err != nil {
			return fmt.Errorf("trade mode: %w", err)
		}
		offers := a.offerService(deps, p)
		var settler feed.TradeSettler
		if p.Config.AutoSettle {
			settler = a.settlement(deps, p)
		}

		listener := feed.NewTradingListener(feed.ListenerConfig{
			Name: p.Config.Name,
			Accept: feed.AcceptPolicy{
				Enabled:    p.Config.Accept.Enabled,
				MaxStake:   p.Config.Accept.MaxStake,
				MinOdds:    p.Config.Accept.MinOdds,
				FixtureIDs: p.Config.Accept.FixtureIDs,
			},
			AutoSettle:  p.Config.AutoSettle,
			SettleSeq:   a.cfg.Trading.SettleSeq,
			CoSign:      p.Config.CoSign,
			Stream:      a.streamOptions(),
			DedupTTL:    a.cfg.Trading.DedupTTL.Duration,
			RenewBefore: a.cfg.Stream.RenewBefore.Duration,
		}, deps.Provider, sess, offers, settler, deps.Bus, deps.Notifier, a.logger)
		listener.RenewWith(func(ctx context.Context) (domain.Session, error) {
			return a.session(ctx, deps, p)
		})

		g.Go(func() error {
			return listener.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// OfferMode builds an offer from the task's term sheet, signs it and submits
// it for the task participant.
func (a *App) OfferMode(ctx context.Context, deps *Dependencies) error {
	p, sess, err := a.taskParticipant(ctx, deps)
	if err != nil {
		return fmt.Errorf("offer mode: %w", err)
	}
	ts, err := offer.LoadTermSheet(a.cfg.Task.TermSheet)
	if err != nil {
		return fmt.Errorf("offer mode: %w", err)
	}
	o, err := ts.Build(p.Signer.PublicKey(), time.Now())
	if err != nil {
		return fmt.Errorf("offer mode: %w", err)
	}
	rec, err := a.offerService(deps, p).Create(ctx, sess, o)
	if err != nil {
		return fmt.Errorf("offer mode: %w", err)
	}
	return a.report(map[string]any{
		"offer_id":    rec.ID,
		"status":      rec.Status,
		"stake":       o.Stake,
		"taker_stake": o.TakerStake(),
		"odds":        o.DecimalOdds().String(),
		"predicate":   o.Predicate.String(),
		"expires_at":  o.ExpiresAt().UTC(),
	})
}

// CancelMode cancels the task's offer.
func (a *App) CancelMode(ctx context.Context, deps *Dependencies) error {
	p, sess, err := a.taskParticipant(ctx, deps)
	if err != nil {
		return fmt.Errorf("cancel mode: %w", err)
	}
	if err := a.offerService(deps, p).Cancel(ctx, sess, a.cfg.Task.OfferID); err != nil {
		return fmt.Errorf("cancel mode: %w", err)
	}
	return a.report(map[string]any{"offer_id": a.cfg.Task.OfferID, "status": domain.OfferStatusCancelled})
}

// SettleMode settles one trade by id. A trade the store does not hold is
// rebuilt from the task's term sheet, maker and taker.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	p, sess, err := a.taskParticipant(ctx, deps)
	if err != nil {
		return fmt.Errorf("settle mode: %w", err)
	}
	trade, err := a.taskTrade(ctx, deps, p)
	if err != nil {
		return fmt.Errorf("settle mode: trade %d: %w", a.cfg.Task.TradeID, err)
	}
	seq := a.cfg.Task.Seq
	if seq == 0 {
		seq = a.cfg.Trading.SettleSeq
	}
	out, err := a.settlement(deps, p).Settle(ctx, sess, trade, service.SelectorFor(trade, seq))
	if err != nil {
		_ = deps.Notifier.Notify(ctx, notify.EventSettlementFailed, "Settlement failed",
			fmt.Sprintf("%s: trade %d: %v", p.Config.Name, trade.ID, err))
		return fmt.Errorf("settle mode: %w", err)
	}
	if out.Won && out.Signature != "" {
		_ = deps.Notifier.Notify(ctx, notify.EventTradeSettled, "Trade settled",
			fmt.Sprintf("%s: trade %d won (value %d) %s", p.Config.Name, trade.ID, out.Value, out.Signature))
	}
	return a.report(map[string]any{
		"trade_id":        out.TradeID,
		"winner":          out.Winner.String(),
		"won":             out.Won,
		"value":           out.Value,
		"signature":       out.Signature,
		"already_settled": out.AlreadySettled,
	})
}

func (a *App) taskTrade(ctx context.Context, deps *Dependencies, p *Participant) (domain.Trade, error) {
	t := a.cfg.Task
	trade, err := deps.Trades.GetByID(ctx, t.TradeID)
	if err == nil || !errors.Is(err, domain.ErrNotFound) || t.TermSheet == "" {
		return trade, err
	}

	maker := p.Signer.PublicKey()
	if t.Maker != "" {
		if maker, err = domain.PublicKeyFromBase58(t.Maker); err != nil {
			return trade, fmt.Errorf("maker: %w", err)
		}
	}
	taker, err := domain.PublicKeyFromBase58(t.Taker)
	if err != nil {
		return trade, fmt.Errorf("taker: %w", err)
	}
	ts, err := offer.LoadTermSheet(t.TermSheet)
	if err != nil {
		return trade, err
	}
	o, err := ts.Build(maker, time.Now())
	if err != nil {
		return trade, err
	}
	trade = domain.Trade{
		ID:        t.TradeID,
		Offer:     o,
		Maker:     maker,
		Taker:     taker,
		Status:    domain.TradeStatusMatched,
		CreatedAt: time.Now().UTC(),
	}
	if err := deps.Trades.Upsert(ctx, trade); err != nil {
		return trade, err
	}
	a.logger.InfoContext(ctx, "settle mode: trade rebuilt from term sheet",
		slog.Uint64("trade_id", trade.ID),
		slog.String("maker", maker.String()),
		slog.String("taker", taker.String()),
	)
	return trade, nil
}

// ValidateMode submits one fixture, odds or stat record for on-chain
// verification.
func (a *App) ValidateMode(ctx context.Context, deps *Dependencies) error {
	p, sess, err := a.taskParticipant(ctx, deps)
	if err != nil {
		return fmt.Errorf("validate mode: %w", err)
	}
	svc := service.NewValidationService(deps.Provider, a.settlement(deps, p), p.Ledger,
		deps.Archiver, a.cfg.Merkle.OddsNamespace, a.logger)

	t := a.cfg.Task
	var sig string
	switch t.Validate {
	case "fixture":
		sig, err = svc.ValidateFixture(ctx, sess, t.FixtureID)
	case "odds":
		sig, err = svc.ValidateOdds(ctx, sess, t.MessageID, t.Ts)
	case "stat":
		sel, pred, perr := statTask(t.FixtureID, t.Seq, t.StatKey, t.StatKeyB, t.Op, t.Comparison, t.Threshold)
		if perr != nil {
			return fmt.Errorf("validate mode: %w", perr)
		}
		sig, err = svc.ValidateStat(ctx, sess, sel, pred)
	default:
		return fmt.Errorf("validate mode: unknown target %q", t.Validate)
	}
	if err != nil {
		return fmt.Errorf("validate mode: %w", err)
	}
	return a.report(map[string]any{"validate": t.Validate, "signature": sig})
}

func statTask(fixtureID, seq uint64, keyA, keyB uint16, op, cmp string, threshold uint32) (domain.StatSelector, domain.Predicate, error) {
	c, err := domain.ParseComparison(cmp)
	if err != nil {
		return domain.StatSelector{}, domain.Predicate{}, err
	}
	sel := domain.StatSelector{FixtureID: fixtureID, Seq: seq, StatKey: keyA}
	if keyB != 0 {
		bop, err := domain.ParseBinaryOp(op)
		if err != nil {
			return domain.StatSelector{}, domain.Predicate{}, err
		}
		sel.StatKeyB = &keyB
		sel.Op = &bop
	}
	return sel, domain.Predicate{Threshold: threshold, Comparison: c}, nil
}

// TokensMode runs one staking, subscription token or vault operation.
func (a *App) TokensMode(ctx context.Context, deps *Dependencies) error {
	p, err := deps.Participant(a.cfg.Task.Participant)
	if err != nil {
		return fmt.Errorf("tokens mode: %w", err)
	}
	svc := service.NewTokenService(p.Ledger, a.logger)

	t := a.cfg.Task
	var sig string
	switch t.Tokens {
	case "stake":
		sig, err = svc.Stake(ctx)
	case "unstake":
		sig, err = svc.Unstake(ctx)
	case "purchase":
		sig, err = svc.Purchase(ctx, t.Amount)
	case "sell":
		sig, err = svc.Sell(ctx, t.Amount)
	case "deposit":
		sig, err = svc.Deposit(ctx, t.Amount)
	case "status":
		st, err := svc.Status(ctx)
		if err != nil {
			return fmt.Errorf("tokens mode: %w", err)
		}
		if st.LegacyStake {
			a.logger.WarnContext(ctx, "tokens: a stake account under the deprecated owner-only derivation exists",
				slog.String("authority", st.Authority.String()))
		}
		out := map[string]any{
			"authority":     st.Authority.String(),
			"staked":        st.Staked,
			"locked":        st.Locked,
			"trading_vault": st.TradingVault,
			"legacy_stake":  st.LegacyStake,
		}
		if st.Staked {
			out["stake_amount"] = st.Stake.Amount
			out["unlock_at"] = time.Unix(st.Stake.UnlockTs, 0).UTC()
		}
		return a.report(out)
	default:
		return fmt.Errorf("tokens mode: unknown operation %q", t.Tokens)
	}
	if err != nil {
		return fmt.Errorf("tokens mode: %w", err)
	}
	return a.report(map[string]any{"tokens": t.Tokens, "signature": sig})
}

// SnapshotMode fetches the task's fixtures, odds and scores snapshots and
// archives each one when a bucket is configured.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	_, sess, err := a.taskParticipant(ctx, deps)
	if err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}
	t := a.cfg.Task
	asOf := time.Now().UTC()
	if t.AsOf != "" {
		if asOf, err = time.Parse(time.RFC3339, t.AsOf); err != nil {
			return fmt.Errorf("snapshot mode: as_of: %w", err)
		}
	}

	summary := map[string]any{"as_of": asOf}
	keep := func(kind, key string, v any, n int) error {
		summary[kind] = n
		if deps.Archiver == nil {
			return nil
		}
		path, err := deps.Archiver.ArchiveSnapshot(ctx, kind, key, v)
		if err != nil {
			return fmt.Errorf("snapshot mode: archive %s: %w", kind, err)
		}
		summary[kind+"_path"] = path
		return nil
	}

	if t.CompetitionID != 0 {
		day := merkle.EpochDay(asOf.UnixMilli())
		fixtures, err := deps.Provider.FixturesSnapshot(ctx, sess, t.CompetitionID, day)
		if err != nil {
			return fmt.Errorf("snapshot mode: fixtures: %w", err)
		}
		key := fmt.Sprintf("%d-%d", t.CompetitionID, day)
		if err := keep("fixtures", key, fixtures, len(fixtures)); err != nil {
			return err
		}
	}

	if t.FixtureID != 0 {
		key := fmt.Sprintf("%d-%d", t.FixtureID, asOf.Unix())
		odds, err := deps.Provider.OddsSnapshot(ctx, sess, t.FixtureID, asOf)
		if err != nil {
			return fmt.Errorf("snapshot mode: odds: %w", err)
		}
		if err := keep("odds", key, odds, len(odds)); err != nil {
			return err
		}
		scores, err := deps.Provider.ScoresSnapshot(ctx, sess, t.FixtureID, asOf)
		if err != nil {
			return fmt.Errorf("snapshot mode: scores: %w", err)
		}
		if err := keep("scores", key, scores, len(scores)); err != nil {
			return err
		}
	}
	return a.report(summary)
}

// ScoresMode relays the live scores stream onto the bus, with the monitor
// server alongside when enabled.
func (a *App) ScoresMode(ctx context.Context, deps *Dependencies) error {
	_, sess, err := a.taskParticipant(ctx, deps)
	if err != nil {
		return fmt.Errorf("scores mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)

	relay := feed.NewScoresRelay(deps.Provider, sess, a.streamOptions(), deps.Bus, a.cfg.Stream.ScoresFixtures, a.logger)
	g.Go(func() error {
		err := relay.Run(ctx)
		if err != nil {
			_ = deps.Notifier.Notify(ctx, notify.EventStreamDisrupted, "Scores stream disrupted", err.Error())
		}
		return err
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// MonitorMode serves the HTTP API and websocket relay until cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	names := make([]string, 0, len(a.cfg.Participants))
	for _, p := range a.cfg.Participants {
		names = append(names, p.Name)
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:         a.cfg.Mode,
		Participants: names,
		StartedAt:    time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Pingers, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, names),
		Offers: handler.NewOfferHandler(deps.Offers, a.logger),
		Trades: handler.NewTradeHandler(deps.Trades, a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// session establishes an activated provider session for p, paying by the
// participant's subscription method.
func (a *App) session(ctx context.Context, deps *Dependencies, p *Participant) (domain.Session, error) {
	broker := service.NewCredentialBroker(deps.Provider, p.Ledger, a.logger.With(slog.String("participant", p.Config.Name)))
	sess, err := broker.Establish(ctx, p.Config.Subscribe)
	if err != nil {
		_ = deps.Notifier.Notify(ctx, notify.EventSubscriptionError, "Subscription failed",
			fmt.Sprintf("%s: %v", p.Config.Name, err))
		return domain.Session{}, fmt.Errorf("participant %q: %w", p.Config.Name, err)
	}
	return sess, nil
}

func (a *App) taskParticipant(ctx context.Context, deps *Dependencies) (*Participant, domain.Session, error) {
	p, err := deps.Participant(a.cfg.Task.Participant)
	if err != nil {
		return nil, domain.Session{}, err
	}
	sess, err := a.session(ctx, deps, p)
	if err != nil {
		return nil, domain.Session{}, err
	}
	return p, sess, nil
}

func (a *App) offerService(deps *Dependencies, p *Participant) *service.OfferService {
	return service.NewOfferService(deps.Provider, p.Signer, deps.Offers, deps.Trades,
		deps.Bus, deps.Audit, p.Config.Name, a.logger)
}

func (a *App) settlement(deps *Dependencies, p *Participant) *service.SettlementCoordinator {
	opts := []service.SettlementOption{
		service.WithTradeStore(deps.Trades),
		service.WithEvents(deps.Bus, deps.Audit),
	}
	if deps.Locks != nil {
		opts = append(opts, service.WithSettlementLock(deps.Locks, a.cfg.Trading.SettleLock.Duration))
	}
	if deps.Archiver != nil {
		opts = append(opts, service.WithArchiver(deps.Archiver))
	}
	if a.cfg.Merkle.VerifyLocally {
		opts = append(opts, service.WithLocalVerification(deps.Hasher))
	}
	return service.NewSettlementCoordinator(deps.Provider, p.Ledger,
		a.logger.With(slog.String("participant", p.Config.Name)), opts...)
}

func (a *App) streamOptions() txodds.StreamOptions {
	return txodds.StreamOptions{
		MaxReconnects:  a.cfg.Stream.MaxReconnects,
		ReconnectDelay: a.cfg.Stream.ReconnectDelay.Duration,
		Buffer:         a.cfg.Stream.Buffer,
	}
}

// report writes a one-shot mode's result as indented JSON.
func (a *App) report(v map[string]any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
