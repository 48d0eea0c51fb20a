// Package app provides the top-level application lifecycle for txoracle. It
// wires together stores, the signal bus, blob archiving, notifications, the
// provider client and each participant's ledger, then runs the configured
// mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/txoracle/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
}

// SetOutput redirects the result of one-shot modes, stdout by default.
func (a *App) SetOutput(w io.Writer) { a.out = w }

// Run is the main entry point. It wires all dependencies, selects the
// operating mode and blocks until the mode finishes or the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("network", a.cfg.Network),
		slog.String("ledger", a.cfg.Ledger.Backend),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.RunMode(ctx, deps)
}

// RunMode runs the configured mode against already wired dependencies.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "offer":
		return a.OfferMode(ctx, deps)
	case "cancel":
		return a.CancelMode(ctx, deps)
	case "settle":
		return a.SettleMode(ctx, deps)
	case "validate":
		return a.ValidateMode(ctx, deps)
	case "tokens":
		return a.TokensMode(ctx, deps)
	case "snapshot":
		return a.SnapshotMode(ctx, deps)
	case "scores":
		return a.ScoresMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
