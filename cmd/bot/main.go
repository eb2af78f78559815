// polymarket-arb is an automated arbitrage bot for Polymarket binary
// prediction markets, trading the spread between YES/NO token prices and
// a BTC reference feed.
//
// Architecture:
//
//	main.go                    — entry point: flags, config, logger, engine lifecycle
//	engine/engine.go           — orchestrator: wires feeds, strategies, execution, risk
//	strategy/{underpricing,staleodds,volatility}.go — the three signal detectors
//	execution/{engine,paired_executor}.go           — mode-parameterized order submission
//	marketdata/{client,auth,ws_*,registry}.go        — REST + WS venue surface
//	risk/manager.go            — pre-trade gate: daily loss, position/rate limits, balance
//	killswitch/killswitch.go   — hard/soft trading halt on loss, exposure, or connectivity
//	exposure/manager.go        — soft exposure-limit bookkeeping
//	health/monitor.go          — per-connection health tracking
//	degradation/manager.go     — operating-mode state machine (NORMAL/REDUCED/MINIMAL/MAINTENANCE/HALTED)
//	state/manager.go           — atomic JSON snapshot persistence (survives restarts)
//	reconcile/reconciler.go    — startup reconciliation against venue-reported state
//	ledger/ledger.go           — append-only NDJSON trade/event ledger
//
// Trading modes (--dry-run, --paper, --live) gate how far a signal travels:
// DRY_RUN never calls the venue, PAPER simulates fills against a worker
// goroutine, LIVE places real orders. LIVE additionally requires typing
// CONFIRM at startup as a deliberate safety gate.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/engine"
)

var version = "dev"

func main() {
	var (
		cfgPath    string
		dryRun     bool
		paper      bool
		live       bool
		showVer    bool
		skipConfirm bool
	)

	pflag.StringVar(&cfgPath, "config", envOr("POLY_CONFIG", "configs/config.yaml"), "path to config file")
	pflag.BoolVar(&dryRun, "dry-run", false, "force DRY_RUN mode: no venue calls, synthetic fills")
	pflag.BoolVar(&paper, "paper", false, "force PAPER mode: simulated fills against real book data")
	pflag.BoolVar(&live, "live", false, "force LIVE mode: real orders against the venue")
	pflag.BoolVar(&skipConfirm, "yes", false, "skip the LIVE mode confirmation prompt (for supervised/automated restarts)")
	pflag.BoolVar(&showVer, "version", false, "print version and exit")
	pflag.Parse()

	if showVer {
		fmt.Println("polymarket-arb " + version)
		return
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	switch {
	case live:
		cfg.Mode = "live"
		cfg.DryRun = false
	case paper:
		cfg.Mode = "paper"
		cfg.DryRun = false
	case dryRun:
		cfg.Mode = "dry_run"
		cfg.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if cfg.Mode == "live" && !skipConfirm {
		if !confirmLiveTrading() {
			logger.Info("live trading not confirmed, exiting")
			return
		}
	}

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	logger.Info("polymarket-arb starting",
		"mode", cfg.Mode,
		"markets", len(cfg.Markets),
		"max_daily_loss", cfg.Risk.MaxDailyLoss,
		"max_position_per_market", cfg.Risk.MaxPositionPerMarket,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	startErrCh := make(chan error, 1)
	go func() {
		startErrCh <- eng.Start(context.Background())
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		eng.Stop()
	case err := <-startErrCh:
		if err != nil {
			logger.Error("engine stopped with error", "error", err)
		}
		eng.Stop()
	}
}

// confirmLiveTrading requires the operator to type CONFIRM before LIVE
// mode places real orders — a deliberate, unskippable (absent --yes)
// pause before the bot can move real money.
func confirmLiveTrading() bool {
	fmt.Fprintln(os.Stderr, "LIVE mode will place real orders against the venue.")
	fmt.Fprint(os.Stderr, "Type CONFIRM to proceed: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return trimNewline(line) == "CONFIRM"
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
