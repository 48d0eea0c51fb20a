package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies the network preset and TXORACLE_* environment
// overrides, and returns the final Config. An empty path skips the file. The
// returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.ApplyNetwork()

	return &cfg, nil
}

// applyEnvOverrides reads TXORACLE_* environment variables and overwrites the
// corresponding Config fields when a variable is set. Participant secrets use
// TXORACLE_PARTICIPANT_<NAME>_PRIVATE_KEY and _KEY_PASSWORD, with NAME upper
// cased and dashes turned into underscores.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Network, "TXORACLE_NETWORK")

	// ── Provider ──
	setStr(&cfg.Provider.BaseURL, "TXORACLE_PROVIDER_BASE_URL")
	setDuration(&cfg.Provider.Timeout, "TXORACLE_PROVIDER_TIMEOUT")
	setInt(&cfg.Provider.ActivationAttempts, "TXORACLE_PROVIDER_ACTIVATION_ATTEMPTS")

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "TXORACLE_LEDGER_BACKEND")
	setStr(&cfg.Ledger.RPCURL, "TXORACLE_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.ProgramID, "TXORACLE_LEDGER_PROGRAM_ID")
	setStr(&cfg.Ledger.Mint, "TXORACLE_LEDGER_MINT")
	setStr(&cfg.Ledger.Commitment, "TXORACLE_LEDGER_COMMITMENT")

	// ── Participants ──
	for i := range cfg.Participants {
		p := &cfg.Participants[i]
		prefix := "TXORACLE_PARTICIPANT_" + envName(p.Name) + "_"
		setStr(&p.PrivateKey, prefix+"PRIVATE_KEY")
		setStr(&p.KeyPassword, prefix+"KEY_PASSWORD")
	}

	// ── Trading / Merkle ──
	setUint64(&cfg.Trading.SettleSeq, "TXORACLE_TRADING_SETTLE_SEQ")
	setStr(&cfg.Merkle.Hash, "TXORACLE_MERKLE_HASH")
	setBool(&cfg.Merkle.VerifyLocally, "TXORACLE_MERKLE_VERIFY_LOCALLY")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "TXORACLE_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "TXORACLE_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "TXORACLE_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "TXORACLE_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "TXORACLE_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "TXORACLE_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "TXORACLE_SUPABASE_SSL_MODE")
	setBool(&cfg.Supabase.RunMigrations, "TXORACLE_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TXORACLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TXORACLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TXORACLE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "TXORACLE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TXORACLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TXORACLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TXORACLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TXORACLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TXORACLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TXORACLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TXORACLE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TXORACLE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TXORACLE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TXORACLE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TXORACLE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TXORACLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TXORACLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TXORACLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TXORACLE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TXORACLE_MODE")
	setStr(&cfg.LogLevel, "TXORACLE_LOG_LEVEL")
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(name))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
