package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/txoracle/internal/blob/s3"
	"github.com/alanyoungcy/txoracle/internal/cache/membus"
	"github.com/alanyoungcy/txoracle/internal/cache/redis"
	"github.com/alanyoungcy/txoracle/internal/config"
	"github.com/alanyoungcy/txoracle/internal/crypto"
	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/feed"
	"github.com/alanyoungcy/txoracle/internal/ledger"
	"github.com/alanyoungcy/txoracle/internal/ledger/paper"
	"github.com/alanyoungcy/txoracle/internal/merkle"
	"github.com/alanyoungcy/txoracle/internal/notify"
	"github.com/alanyoungcy/txoracle/internal/platform/solana"
	"github.com/alanyoungcy/txoracle/internal/platform/txodds"
	"github.com/alanyoungcy/txoracle/internal/server/handler"
	"github.com/alanyoungcy/txoracle/internal/service"
	"github.com/alanyoungcy/txoracle/internal/store/memstore"
	"github.com/alanyoungcy/txoracle/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Offers domain.OfferStore
	Trades domain.TradeStore
	Audit  domain.AuditStore

	// Caches
	Bus   domain.SignalBus
	Locks domain.LockManager // nil without redis

	// Blob storage
	Archiver domain.Archiver // nil without a bucket

	Notifier *notify.Notifier
	Hasher   merkle.HashFunc

	// Provider is the data and matching service. Under the paper backend it
	// is wrapped so validation roots land in Book.
	Provider Provider
	Book     *paper.Book // nil unless ledger.backend = "paper"

	Participants []*Participant

	// Pingers are the health checks reported by GET /api/health.
	Pingers map[string]handler.Pinger
}

// Participant is one configured trading identity with its signer and ledger
// view.
type Participant struct {
	Config config.ParticipantConfig
	Signer *crypto.Signer
	Ledger domain.Ledger
}

// Participant returns the wired participant named name, or the first one when
// name is empty.
func (d *Dependencies) Participant(name string) (*Participant, error) {
	for _, p := range d.Participants {
		if name == "" || p.Config.Name == name {
			return p, nil
		}
	}
	if name == "" {
		return nil, fmt.Errorf("app: no participants configured")
	}
	return nil, fmt.Errorf("app: unknown participant %q", name)
}

// Provider is everything the modes use from the data provider.
type Provider interface {
	service.SessionProvider
	service.TradingProvider
	service.StatProvider
	service.ValidationProvider
	feed.TradingSource
	feed.ScoresSource
	FixturesSnapshot(ctx context.Context, s domain.Session, competitionID int64, startEpochDay int64) ([]domain.Fixture, error)
	OddsSnapshot(ctx context.Context, s domain.Session, fixtureID uint64, asOf time.Time) ([]domain.Odds, error)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsParticipants returns true for modes that hold a provider session.
func needsParticipants(mode string) bool {
	return mode != "monitor"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}
	mode := strings.ToLower(cfg.Mode)

	hasher, err := merkle.HasherByName(cfg.Merkle.Hash)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Hasher = hasher

	// --- PostgreSQL (in-memory stores when not configured) ---
	if cfg.Supabase.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		stores := pgClient.Stores()
		deps.Offers, deps.Trades, deps.Audit = stores.Offers, stores.Trades, stores.Audit
		deps.Pingers["postgres"] = pgClient
	} else {
		stores := memstore.New()
		deps.Offers, deps.Trades, deps.Audit = stores.Offers, stores.Trades, stores.Audit
		logger.InfoContext(ctx, "wire: no database configured, using in-memory stores")
	}

	// --- Redis (in-process bus when not configured) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient, domain.ChannelSettlements)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Pingers["redis"] = redisClient
	} else {
		deps.Bus = membus.New(domain.ChannelSettlements)
		logger.InfoContext(ctx, "wire: no redis configured, using the in-process bus without settlement locks")
	}

	// --- S3 blob storage ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			s3blob.WithPrefix(cfg.S3.Prefix),
			s3blob.WithAudit(deps.Audit),
		)
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.WarnContext(ctx, "wire: telegram disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Provider ---
	client, err := txodds.NewClient(txodds.Config{
		BaseURL:            cfg.Provider.BaseURL,
		Timeout:            cfg.Provider.Timeout.Duration,
		ActivationTimeout:  cfg.Provider.ActivationTimeout.Duration,
		ActivationAttempts: cfg.Provider.ActivationAttempts,
		ActivationDelay:    cfg.Provider.ActivationDelay.Duration,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: provider: %w", err))
	}
	deps.Provider = client

	if cfg.Ledger.Backend == "paper" {
		deps.Book = paper.NewBook(hasher,
			paper.WithStakeAmount(cfg.Ledger.Paper.StakeAmount),
			paper.WithLockPeriod(cfg.Ledger.Paper.LockPeriod.Duration),
		)
		deps.Provider = newPaperOracle(client, deps.Book, hasher, cfg.Merkle.OddsNamespace, logger)
		deps.Trades = newEscrowingTrades(deps.Trades, deps.Book, logger)
	}

	// --- Participants ---
	if needsParticipants(mode) {
		parts, err := wireParticipants(ctx, cfg, deps.Book, logger)
		if err != nil {
			return fail(err)
		}
		deps.Participants = parts
	}

	return deps, cleanup, nil
}

func wireParticipants(ctx context.Context, cfg *config.Config, book *paper.Book, logger *slog.Logger) ([]*Participant, error) {
	var (
		rpc     *solana.RPCClient
		ledgCfg ledger.Config
	)
	if book == nil {
		rpc = solana.NewRPCClient(solana.RPCConfig{
			URL:          cfg.Ledger.RPCURL,
			Timeout:      cfg.Provider.Timeout.Duration,
			Commitment:   cfg.Ledger.Commitment,
			PollInterval: cfg.Ledger.PollInterval.Duration,
		}, logger)
		var err error
		if ledgCfg, err = ledgerConfig(cfg.Ledger); err != nil {
			return nil, fmt.Errorf("wire: ledger: %w", err)
		}
	}

	out := make([]*Participant, 0, len(cfg.Participants))
	for _, pc := range cfg.Participants {
		signer, err := participantSigner(pc, book != nil)
		if err != nil {
			return nil, fmt.Errorf("wire: participant %q: %w", pc.Name, err)
		}

		p := &Participant{Config: pc, Signer: signer}
		if book != nil {
			owner := signer.PublicKey()
			book.Fund(owner, cfg.Ledger.Paper.FundTokens, cfg.Ledger.Paper.FundLamports)
			l := book.Ledger(owner)
			if free := cfg.Ledger.Paper.FundTokens; free > cfg.Ledger.Paper.StakeAmount {
				if _, err := l.Deposit(ctx, free-cfg.Ledger.Paper.StakeAmount); err != nil {
					return nil, fmt.Errorf("wire: participant %q: paper deposit: %w", pc.Name, err)
				}
			}
			p.Ledger = l
		} else {
			l, err := ledger.NewClient(rpc, signer, ledgCfg, logger)
			if err != nil {
				return nil, fmt.Errorf("wire: participant %q: %w", pc.Name, err)
			}
			p.Ledger = l
		}

		logger.InfoContext(ctx, "wire: participant ready",
			slog.String("participant", pc.Name),
			slog.String("address", signer.Address()),
			slog.String("ledger", cfg.Ledger.Backend),
		)
		out = append(out, p)
	}
	return out, nil
}

// participantSigner loads the participant's key. A paper participant without
// a key gets a fresh one.
func participantSigner(pc config.ParticipantConfig, paperBackend bool) (*crypto.Signer, error) {
	kc := crypto.KeyConfig{
		RawPrivateKey:    pc.PrivateKey,
		KeypairPath:      pc.KeypairPath,
		EncryptedKeyPath: pc.EncryptedKeyPath,
		KeyPassword:      pc.KeyPassword,
	}
	if paperBackend && kc.RawPrivateKey == "" && kc.KeypairPath == "" && kc.EncryptedKeyPath == "" {
		return crypto.GenerateSigner()
	}
	key, err := crypto.LoadKey(kc)
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(key)
}

func ledgerConfig(c config.LedgerConfig) (ledger.Config, error) {
	out := ledger.Config{
		SettleComputeUnits:   c.SettleComputeUnits,
		ValidateComputeUnits: c.ValidateComputeUnits,
	}
	fields := []struct {
		name  string
		value string
		dst   *domain.PublicKey
	}{
		{"program_id", c.ProgramID, &out.ProgramID},
		{"mint", c.Mint, &out.Mint},
		{"token_account", c.TokenAccount, &out.TokenAccount},
		{"associated_token_program", c.AssociatedTokenProgram, &out.AssociatedTokenProgram},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		pk, err := domain.PublicKeyFromBase58(f.value)
		if err != nil {
			return out, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = pk
	}
	return out, nil
}
