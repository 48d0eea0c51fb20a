// Command txoracle is the entry point for the sports-data oracle client. It
// loads configuration, applies command-line task arguments, validates the
// result, sets up signal handling and runs the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/txoracle/internal/app"
	"github.com/alanyoungcy/txoracle/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "run mode: "+strings.Join(config.Modes, " | "))
	participant := flag.String("participant", "", "participant name (default: first configured)")
	termSheet := flag.String("term-sheet", "", "offer/settle: YAML term sheet path")
	offerID := flag.Uint("offer", 0, "cancel: offer id")
	tradeID := flag.Uint64("trade", 0, "settle: trade id")
	maker := flag.String("maker", "", "settle: maker public key when rebuilding a trade (default: participant)")
	taker := flag.String("taker", "", "settle: taker public key when rebuilding a trade")
	seq := flag.Uint64("seq", 0, "settle/validate: score update sequence (0 = latest)")
	validate := flag.String("validate", "", "validate: fixture | odds | stat")
	fixtureID := flag.Uint64("fixture", 0, "validate/snapshot: fixture id")
	competitionID := flag.Int64("competition", 0, "snapshot: competition id")
	messageID := flag.String("message", "", "validate odds: message id")
	ts := flag.Int64("ts", 0, "validate odds: message timestamp in ms")
	statKey := flag.Uint("stat", 0, "validate stat: statistic key")
	statKeyB := flag.Uint("stat-b", 0, "validate stat: second statistic key")
	op := flag.String("op", "", "validate stat: add | subtract")
	comparison := flag.String("cmp", "", "validate stat: gt | lt | eq")
	threshold := flag.Uint("threshold", 0, "validate stat: predicate threshold")
	tokens := flag.String("tokens", "", "tokens: stake | unstake | purchase | sell | deposit | status")
	amount := flag.Uint64("amount", 0, "tokens: lamports to spend or token units to sell/deposit")
	asOf := flag.String("as-of", "", "snapshot: RFC 3339 time (default now)")
	flag.Parse()

	// Logs go to stderr so one-shot results on stdout stay machine readable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		t := &cfg.Task
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "participant":
			t.Participant = *participant
		case "term-sheet":
			t.TermSheet = *termSheet
		case "offer":
			t.OfferID = uint32(*offerID)
		case "trade":
			t.TradeID = *tradeID
		case "maker":
			t.Maker = *maker
		case "taker":
			t.Taker = *taker
		case "seq":
			t.Seq = *seq
		case "validate":
			t.Validate = *validate
		case "fixture":
			t.FixtureID = *fixtureID
		case "competition":
			t.CompetitionID = *competitionID
		case "message":
			t.MessageID = *messageID
		case "ts":
			t.Ts = *ts
		case "stat":
			t.StatKey = uint16(*statKey)
		case "stat-b":
			t.StatKeyB = uint16(*statKeyB)
		case "op":
			t.Op = *op
		case "cmp":
			t.Comparison = *comparison
		case "threshold":
			t.Threshold = uint32(*threshold)
		case "tokens":
			t.Tokens = *tokens
		case "amount":
			t.Amount = *amount
		case "as-of":
			t.AsOf = *asOf
		}
	})

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("txoracle starting",
		slog.String("mode", cfg.Mode),
		slog.String("network", cfg.Network),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("txoracle stopped")
}
