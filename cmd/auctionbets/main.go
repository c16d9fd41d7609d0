package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/auctionbets/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	scenarioPath := flag.String("scenario", "", "replay a YAML scenario against an in-memory ledger and exit")
	report := flag.Bool("report", false, "print markets and positions from the SQLite store and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	decimals := flag.Int("decimals", -1, "token decimals for console amounts (overrides config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// El modo scenario no necesita archivo de config.
	if *scenarioPath != "" {
		logCfg := config.LogConfig{Level: "warn", Format: *logFormat}
		if *verbose {
			logCfg.Level = "debug"
		}
		setupLogger(logCfg)
		if err := runScenarioFile(ctx, *scenarioPath, os.Stdout, int32(max(*decimals, 0))); err != nil {
			fmt.Fprintln(os.Stderr, "scenario failed:", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *decimals >= 0 {
		cfg.Ledger.Decimals = int32(*decimals)
	}
	setupLogger(cfg.Log)

	if *report {
		if err := runReport(ctx, cfg, os.Stdout); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("auctionbets starting",
		"config", *configPath,
		"ledger", cfg.Ledger.Mode,
		"storage", cfg.Storage.DSN,
		"port", cfg.API.Port,
	)
	if err := runServe(ctx, cfg); err != nil {
		slog.Error("server exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("auctionbets stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
