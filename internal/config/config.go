// Package config defines the txoracle configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TXORACLE_* environment variables.
type Config struct {
	Network      string              `toml:"network"`
	Provider     ProviderConfig      `toml:"provider"`
	Ledger       LedgerConfig        `toml:"ledger"`
	Participants []ParticipantConfig `toml:"participants"`
	Trading      TradingConfig       `toml:"trading"`
	Merkle       MerkleConfig        `toml:"merkle"`
	Stream       StreamConfig        `toml:"stream"`
	Supabase     SupabaseConfig      `toml:"supabase"`
	Redis        RedisConfig         `toml:"redis"`
	S3           S3Config            `toml:"s3"`
	Server       ServerConfig        `toml:"server"`
	Notify       NotifyConfig        `toml:"notify"`
	Task         TaskConfig          `toml:"task"`
	Mode         string              `toml:"mode"`
	LogLevel     string              `toml:"log_level"`
}

// ProviderConfig points at the data provider's HTTP API.
type ProviderConfig struct {
	BaseURL            string   `toml:"base_url"`
	Timeout            duration `toml:"timeout"`
	ActivationTimeout  duration `toml:"activation_timeout"`
	ActivationAttempts int      `toml:"activation_attempts"`
	ActivationDelay    duration `toml:"activation_delay"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	// Backend is "rpc" for the network or "paper" for the in-memory book.
	Backend                string      `toml:"backend"`
	RPCURL                 string      `toml:"rpc_url"`
	Commitment             string      `toml:"commitment"`
	PollInterval           duration    `toml:"poll_interval"`
	ProgramID              string      `toml:"program_id"`
	Mint                   string      `toml:"mint"`
	TokenAccount           string      `toml:"token_account"`
	AssociatedTokenProgram string      `toml:"associated_token_program"`
	SettleComputeUnits     uint32      `toml:"settle_compute_units"`
	ValidateComputeUnits   uint32      `toml:"validate_compute_units"`
	Paper                  PaperConfig `toml:"paper"`
}

// PaperConfig seeds the in-memory ledger.
type PaperConfig struct {
	StakeAmount  uint64   `toml:"stake_amount"`
	LockPeriod   duration `toml:"lock_period"`
	FundTokens   uint64   `toml:"fund_tokens"`
	FundLamports uint64   `toml:"fund_lamports"`
}

// ParticipantConfig is one trading identity. Exactly one key source is set.
type ParticipantConfig struct {
	Name             string `toml:"name"`
	PrivateKey       string `toml:"private_key"`
	KeypairPath      string `toml:"keypair_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	// Subscribe is "stake" or "token".
	Subscribe  string       `toml:"subscribe"`
	Accept     AcceptConfig `toml:"accept"`
	AutoSettle bool         `toml:"auto_settle"`
	CoSign     bool         `toml:"co_sign"`
}

// AcceptConfig bounds which announced offers are accepted automatically.
type AcceptConfig struct {
	Enabled    bool     `toml:"enabled"`
	MaxStake   uint64   `toml:"max_stake"`
	MinOdds    uint32   `toml:"min_odds"`
	FixtureIDs []uint64 `toml:"fixture_ids"`
}

// TradingConfig holds settlement and listener tuning.
type TradingConfig struct {
	// SettleSeq pins the score sequence used for settlement; 0 uses the
	// latest sequence in the scores snapshot.
	SettleSeq  uint64   `toml:"settle_seq"`
	SettleLock duration `toml:"settle_lock"`
	DedupTTL   duration `toml:"dedup_ttl"`
}

// MerkleConfig selects the tree hash and local proof checking.
type MerkleConfig struct {
	Hash          string `toml:"hash"`
	VerifyLocally bool   `toml:"verify_locally"`
	// OddsNamespace enables hourly 5-minute odds roots when set.
	OddsNamespace string `toml:"odds_namespace"`
}

// StreamConfig tunes the provider's event streams.
type StreamConfig struct {
	MaxReconnects  int      `toml:"max_reconnects"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	Buffer         int      `toml:"buffer"`
	// RenewBefore is how long before subscription expiry a listener
	// re-establishes its session.
	RenewBefore duration `toml:"renew_before"`
	// ScoresFixtures limits the scores relay to these fixtures.
	ScoresFixtures []uint64 `toml:"scores_fixtures"`
}

// SupabaseConfig holds PostgreSQL connection parameters. Persistence is off
// when both DSN and Host are empty.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (s SupabaseConfig) Enabled() bool {
	return strings.TrimSpace(s.DSN) != "" || s.Host != ""
}

// RedisConfig holds Redis connection parameters. An empty Addr selects the
// in-process bus and disables cross-process settlement locks.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. Archiving is off
// when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds monitor HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TaskConfig carries the arguments of the one-shot modes. The command line
// flags write into it.
type TaskConfig struct {
	Participant string `toml:"participant"`

	TermSheet string `toml:"term_sheet"`
	OfferID   uint32 `toml:"offer_id"`
	TradeID   uint64 `toml:"trade_id"`
	Seq       uint64 `toml:"seq"`

	// Maker and Taker rebuild a trade the store does not hold, together with
	// TermSheet. Maker defaults to the participant.
	Maker string `toml:"maker"`
	Taker string `toml:"taker"`

	// Validate is fixture | odds | stat.
	Validate      string `toml:"validate"`
	FixtureID     uint64 `toml:"fixture_id"`
	CompetitionID int64  `toml:"competition_id"`
	MessageID     string `toml:"message_id"`
	Ts            int64  `toml:"ts"`
	StatKey       uint16 `toml:"stat_key"`
	StatKeyB      uint16 `toml:"stat_key_b"`
	Op            string `toml:"op"`
	Comparison    string `toml:"comparison"`
	Threshold     uint32 `toml:"threshold"`

	// Tokens is stake | unstake | purchase | sell | deposit | status.
	Tokens string `toml:"tokens"`
	Amount uint64 `toml:"amount"`

	// AsOf is an RFC 3339 time for historical snapshots; empty means now.
	AsOf string `toml:"as_of"`
}

// Network presets.
const (
	NetworkDevnet  = "devnet"
	NetworkMainnet = "mainnet"
)

type preset struct {
	baseURL, rpcURL, mint string
}

var presets = map[string]preset{
	NetworkDevnet: {
		baseURL: "https://oracle-dev.txodds.com",
		rpcURL:  "https://api.devnet.solana.com",
		mint:    "GYdhNurtx2EgiTPRHVGuFWKHPycdpUqgedVkwEVUWVTC",
	},
	NetworkMainnet: {
		baseURL: "https://oracle.txodds.com",
		rpcURL:  "https://api.mainnet-beta.solana.com",
		mint:    "sLX1i9dfmsuyFBmJTWuGjjRmG4VPWYK6dRRKSM4BCSx",
	},
}

// ApplyNetwork fills provider and ledger endpoints left empty from the
// network preset.
func (c *Config) ApplyNetwork() {
	p, ok := presets[strings.ToLower(c.Network)]
	if !ok {
		return
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = p.baseURL
	}
	if c.Ledger.RPCURL == "" {
		c.Ledger.RPCURL = p.rpcURL
	}
	if c.Ledger.Mint == "" {
		c.Ledger.Mint = p.mint
	}
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Network: NetworkDevnet,
		Provider: ProviderConfig{
			Timeout:            duration{30 * time.Second},
			ActivationTimeout:  duration{15 * time.Second},
			ActivationAttempts: 3,
			ActivationDelay:    duration{2 * time.Second},
		},
		Ledger: LedgerConfig{
			Backend:                "rpc",
			Commitment:             "confirmed",
			PollInterval:           duration{2 * time.Second},
			AssociatedTokenProgram: "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL",
			SettleComputeUnits:     600_000,
			Paper: PaperConfig{
				StakeAmount:  1000,
				LockPeriod:   duration{30 * 24 * time.Hour},
				FundTokens:   10_000,
				FundLamports: 5_000_000_000,
			},
		},
		Trading: TradingConfig{
			SettleLock: duration{2 * time.Minute},
			DedupTTL:   duration{10 * time.Minute},
		},
		Merkle: MerkleConfig{
			Hash: "sha256",
		},
		Stream: StreamConfig{
			MaxReconnects:  5,
			ReconnectDelay: duration{3 * time.Second},
			Buffer:         64,
			RenewBefore:    duration{10 * time.Minute},
		},
		Supabase: SupabaseConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "txoracle",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_matched", "trade_settled", "settlement_failed", "stream_disrupted"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Modes lists the accepted values for Config.Mode.
var Modes = []string{"trade", "offer", "cancel", "settle", "validate", "tokens", "snapshot", "scores", "monitor"}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validMode(m string) bool {
	for _, v := range Modes {
		if v == m {
			return true
		}
	}
	return false
}

// needsParticipant reports whether mode acts as a participant. Every mode
// that reads provider data needs one to pay for its session.
func needsParticipant(mode string) bool {
	return mode != "monitor"
}

// Participant returns the participant named name, or the first one when name
// is empty.
func (c *Config) Participant(name string) (ParticipantConfig, error) {
	if len(c.Participants) == 0 {
		return ParticipantConfig{}, fmt.Errorf("config: no participants configured")
	}
	if name == "" {
		return c.Participants[0], nil
	}
	for _, p := range c.Participants {
		if p.Name == name {
			return p, nil
		}
	}
	return ParticipantConfig{}, fmt.Errorf("config: unknown participant %q", name)
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validMode(mode) {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: %s)", c.Mode, strings.Join(Modes, ", ")))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Provider
	if c.Provider.BaseURL == "" {
		errs = append(errs, "provider: base_url must not be empty (or set network)")
	}
	if c.Provider.ActivationAttempts < 1 {
		errs = append(errs, "provider: activation_attempts must be >= 1")
	}

	// Ledger
	switch c.Ledger.Backend {
	case "paper":
	case "rpc":
		if c.Ledger.RPCURL == "" {
			errs = append(errs, "ledger: rpc_url must not be empty (or set network)")
		}
		if c.Ledger.ProgramID == "" {
			errs = append(errs, "ledger: program_id is required for the rpc backend")
		}
		if c.Ledger.Mint == "" {
			errs = append(errs, "ledger: mint must not be empty (or set network)")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: rpc, paper)", c.Ledger.Backend))
	}

	// Merkle
	switch strings.ToLower(c.Merkle.Hash) {
	case "sha256", "keccak256":
	default:
		errs = append(errs, fmt.Sprintf("merkle: unknown hash %q (valid: sha256, keccak256)", c.Merkle.Hash))
	}

	// Participants
	if needsParticipant(mode) && len(c.Participants) == 0 {
		errs = append(errs, "participants: at least one participant is required for mode "+mode)
	}
	seen := make(map[string]bool, len(c.Participants))
	for i, p := range c.Participants {
		label := fmt.Sprintf("participants[%d]", i)
		if p.Name == "" {
			errs = append(errs, label+": name must not be empty")
		} else if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate name %q", label, p.Name))
		}
		seen[p.Name] = true

		sources := 0
		for _, s := range []string{p.PrivateKey, p.KeypairPath, p.EncryptedKeyPath} {
			if s != "" {
				sources++
			}
		}
		if sources != 1 && c.Ledger.Backend != "paper" {
			errs = append(errs, label+": exactly one of private_key, keypair_path or encrypted_key_path must be set")
		}
		if p.EncryptedKeyPath != "" && p.KeyPassword == "" {
			errs = append(errs, label+": key_password is required when encrypted_key_path is set")
		}
		switch p.Subscribe {
		case "", "stake", "token":
		default:
			errs = append(errs, fmt.Sprintf("%s: subscribe must be stake or token, got %q", label, p.Subscribe))
		}
	}

	// Supabase
	if c.Supabase.Enabled() && strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Server
	if c.Server.Enabled || mode == "monitor" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	errs = append(errs, c.validateTask(mode)...)

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateTask(mode string) []string {
	var errs []string
	t := c.Task
	switch mode {
	case "offer":
		if t.TermSheet == "" {
			errs = append(errs, "task: term_sheet is required for mode offer")
		}
	case "cancel":
		if t.OfferID == 0 {
			errs = append(errs, "task: offer_id is required for mode cancel")
		}
	case "settle":
		if t.TradeID == 0 {
			errs = append(errs, "task: trade_id is required for mode settle")
		}
		if !c.Supabase.Enabled() && (t.TermSheet == "" || t.Taker == "") {
			errs = append(errs, "task: without supabase, settle needs term_sheet and taker to rebuild the trade")
		}
	case "validate":
		switch t.Validate {
		case "fixture":
			if t.FixtureID == 0 {
				errs = append(errs, "task: fixture_id is required to validate a fixture")
			}
		case "odds":
			if t.MessageID == "" || t.Ts == 0 {
				errs = append(errs, "task: message_id and ts are required to validate odds")
			}
		case "stat":
			if t.FixtureID == 0 || t.StatKey == 0 || t.Comparison == "" {
				errs = append(errs, "task: fixture_id, stat_key and comparison are required to validate a stat")
			}
			if (t.StatKeyB == 0) != (t.Op == "") {
				errs = append(errs, "task: stat_key_b and op must be set together")
			}
		default:
			errs = append(errs, fmt.Sprintf("task: validate must be fixture, odds or stat, got %q", t.Validate))
		}
	case "snapshot":
		if t.FixtureID == 0 && t.CompetitionID == 0 {
			errs = append(errs, "task: fixture_id or competition_id is required for mode snapshot")
		}
	case "tokens":
		switch t.Tokens {
		case "stake", "unstake", "status":
		case "purchase", "sell", "deposit":
			if t.Amount == 0 {
				errs = append(errs, "task: amount is required for tokens "+t.Tokens)
			}
		default:
			errs = append(errs, fmt.Sprintf("task: tokens must be stake, unstake, purchase, sell, deposit or status, got %q", t.Tokens))
		}
	}
	if t.AsOf != "" {
		if _, err := time.Parse(time.RFC3339, t.AsOf); err != nil {
			errs = append(errs, fmt.Sprintf("task: as_of %q is not RFC 3339", t.AsOf))
		}
	}
	return errs
}
