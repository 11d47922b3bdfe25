// Package main is the entry point for the algo execution engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/admission"
	"algoexec/internal/config"
	"algoexec/internal/exchange/paper"
	"algoexec/internal/executor"
	"algoexec/internal/metrics"
	"algoexec/internal/monitor"
	"algoexec/internal/persistence"
	"algoexec/internal/strategy"
	"algoexec/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Algo Execution Engine - TWAP / VWAP / Ladder / Conditional

Usage:
  algoexec <command> [options]

Commands:
  run        Execute an order against the paper exchange
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  algoexec run --config config.yaml --strategy twap --product BTC-USD \
      --side BUY --size 1.5 --slices 10 --duration 30m --price 50000
  algoexec run --config config.yaml --strategy ladder --product BTC-USD \
      --side BUY --size 2 --slices 5 --low 49000 --high 50000 --distribution linear
  algoexec validate --config config.yaml`)
}

func cmdVersion() {
	fmt.Printf("algoexec version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Rate limit: %.0f req/s, burst %d\n", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	fmt.Printf("  Persistence: %v (%s)\n", cfg.Persistence.Enabled, cfg.Persistence.Path)
	fmt.Printf("  Metrics: %v (port %d)\n", cfg.Metrics.Enabled, cfg.Metrics.Port)
}

type runFlags struct {
	strategyName string
	productID    string
	side         string
	size         string
	slices       int
	duration     time.Duration
	price        string
	priceMode    string
	jitterPct    float64
	partCap      float64
	fallback     int
	low          string
	high         string
	distribution string
	trigger      string
	triggerDir   string
	expiry       time.Duration
	takeProfit   string
	stopLoss     string
	verbose      bool
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")

	var f runFlags
	fs.StringVar(&f.strategyName, "strategy", "twap", "Strategy: twap, vwap, ladder, conditional")
	fs.StringVar(&f.productID, "product", "", "Product ID (required)")
	fs.StringVar(&f.side, "side", "BUY", "Order side: BUY or SELL")
	fs.StringVar(&f.size, "size", "", "Total size (required)")
	fs.IntVar(&f.slices, "slices", 10, "Number of slices / ladder levels")
	fs.DurationVar(&f.duration, "duration", 30*time.Minute, "Execution duration (twap/vwap)")
	fs.StringVar(&f.price, "price", "", "Limit price")
	fs.StringVar(&f.priceMode, "price-mode", "limit", "Price mode: limit, bid, mid, ask")
	fs.Float64Var(&f.jitterPct, "jitter", 0, "TWAP jitter fraction of interval (0-0.5)")
	fs.Float64Var(&f.partCap, "participation", 0, "TWAP participation cap (0-1, 0 disables)")
	fs.IntVar(&f.fallback, "fallback-slices", 0, "TWAP market-fallback slices for deferred size")
	fs.StringVar(&f.low, "low", "", "Ladder low price")
	fs.StringVar(&f.high, "high", "", "Ladder high price")
	fs.StringVar(&f.distribution, "distribution", "flat", "Ladder distribution: flat, linear, exponential")
	fs.StringVar(&f.trigger, "trigger", "", "Conditional trigger price")
	fs.StringVar(&f.triggerDir, "trigger-direction", "auto", "Trigger direction: up, down, auto")
	fs.DurationVar(&f.expiry, "expiry", 0, "Conditional expiry (0 = none)")
	fs.StringVar(&f.takeProfit, "take-profit", "", "Bracket take-profit price")
	fs.StringVar(&f.stopLoss, "stop-loss", "", "Bracket stop-loss price")
	fs.BoolVar(&f.verbose, "verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if f.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if f.productID == "" || f.size == "" {
		fmt.Fprintln(os.Stderr, "Error: --product and --size are required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("algoexec starting", "version", Version, "strategy", f.strategyName, "product", f.productID)

	rec := metrics.NewRecorder()
	adm := admission.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, rec, logger)

	// Paper exchange seeded around the requested price so the demo has a
	// book to trade against.
	feed := paper.NewFeed()
	exch := paper.New(paper.Config{
		FillDelay:        cfg.PaperFillDelay(),
		PartialFillParts: cfg.Paper.PartialFillParts,
		MakerFeeRate:     cfg.PaperMakerFee(),
		TakerFeeRate:     cfg.PaperTakerFee(),
	}, feed, logger)
	defer exch.Close()
	seedBook(exch, f)

	var repo persistence.Repository
	if cfg.Persistence.Enabled {
		sqlRepo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open persistence", "err", err)
			os.Exit(1)
		}
		defer func() { _ = sqlRepo.Close() }()
		repo = sqlRepo
	}

	mon := monitor.New(cfg.ToMonitorConfig(), exch, adm, feed, rec, logger)
	mon.Start()
	defer mon.Stop()

	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		srv = metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port, MetricsPath: cfg.Metrics.Path}, logger)
		srv.RegisterHealthCheck("monitor", func() metrics.Check {
			if time.Since(mon.LastPoll()) > time.Minute {
				return metrics.Check{Status: "unhealthy", Message: "monitor poll stalled"}
			}
			return metrics.Check{Status: "healthy"}
		})
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Reconcile bracket pairs left open by a previous run.
	if repo != nil {
		reconcileBrackets(ctx, repo, mon, logger)
	}

	strat, err := buildStrategy(ctx, f, exch, adm, logger)
	if err != nil {
		slog.Error("failed to build strategy", "err", err)
		os.Exit(1)
	}

	exec := executor.New(cfg.ToExecutorConfig(), exch, adm, mon, repo, rec, logger)
	res, err := exec.Run(ctx, strat)
	if err != nil && res == nil {
		slog.Error("execution failed", "err", err)
		os.Exit(1)
	}
	printResult(res)
}

func reconcileBrackets(ctx context.Context, repo persistence.Repository, mon *monitor.Monitor, logger *slog.Logger) {
	pairs, err := repo.GetOpenOCOPairs(ctx)
	if err != nil {
		logger.Warn("load open bracket pairs", "err", err)
		return
	}
	for _, p := range pairs {
		if err := mon.ReconcileOCO(ctx, p.AOrderID, p.BOrderID); err != nil {
			logger.Warn("reconcile bracket pair", "a", p.AOrderID, "b", p.BOrderID, "err", err)
			continue
		}
		if err := repo.ResolveOCOPair(ctx, p.ExecutionID, p.AOrderID); err != nil {
			logger.Warn("mark bracket pair resolved", "err", err)
		}
	}
}

func seedBook(exch *paper.Exchange, f runFlags) {
	ref := mustDecimal(f.price, "50000")
	if f.trigger != "" {
		ref = mustDecimal(f.trigger, "50000")
	}
	spread := ref.Mul(decimal.RequireFromString("0.0002"))
	exch.SetBook(f.productID, ref.Sub(spread), ref.Add(spread))
}

func mustDecimal(s, fallback string) decimal.Decimal {
	if s == "" {
		s = fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid decimal %q\n", s)
		os.Exit(1)
	}
	return d
}

func parsePriceMode(s string) types.PriceMode {
	switch s {
	case "bid":
		return types.PriceBid
	case "mid":
		return types.PriceMid
	case "ask":
		return types.PriceAsk
	default:
		return types.PriceLimit
	}
}

func buildStrategy(ctx context.Context, f runFlags, exch *paper.Exchange, adm *admission.Controller, logger *slog.Logger) (strategy.Strategy, error) {
	side, ok := types.ParseSide(f.side)
	if !ok {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", types.ErrInvalidParams)
	}
	size := mustDecimal(f.size, "")

	switch f.strategyName {
	case "twap":
		var price decimal.Decimal
		if f.price != "" {
			price = mustDecimal(f.price, "")
		}
		return strategy.NewTWAP(strategy.TWAPConfig{
			ProductID:        f.productID,
			Side:             side,
			TotalSize:        size,
			Duration:         f.duration,
			NumSlices:        f.slices,
			LimitPrice:       price,
			PriceMode:        parsePriceMode(f.priceMode),
			JitterPct:        f.jitterPct,
			ParticipationCap: decimal.NewFromFloat(f.partCap),
			FallbackSlices:   f.fallback,
		}, exch, adm, logger)
	case "vwap":
		var price decimal.Decimal
		if f.price != "" {
			price = mustDecimal(f.price, "")
		}
		return strategy.NewVWAP(strategy.VWAPConfig{
			ProductID:  f.productID,
			Side:       side,
			TotalSize:  size,
			Duration:   f.duration,
			NumSlices:  f.slices,
			LimitPrice: price,
			PriceMode:  parsePriceMode(f.priceMode),
			Benchmark:  true,
		}, exch, adm, logger)
	case "ladder":
		dist, _ := types.ParseDistribution(f.distribution)
		return strategy.NewLadder(strategy.LadderConfig{
			ProductID:    f.productID,
			Side:         side,
			TotalSize:    size,
			PriceLow:     mustDecimal(f.low, ""),
			PriceHigh:    mustDecimal(f.high, ""),
			NumOrders:    f.slices,
			Distribution: dist,
		}, logger)
	case "conditional":
		trigger := mustDecimal(f.trigger, "")
		var dir strategy.TriggerDirection
		switch f.triggerDir {
		case "up":
			dir = strategy.CrossUp
		case "down":
			dir = strategy.CrossDown
		default:
			snap, err := exch.GetSnapshot(ctx, f.productID)
			if err != nil {
				return nil, fmt.Errorf("auto trigger direction: %w", err)
			}
			dir = strategy.AutoDirection(trigger, snap.Mid())
		}
		cfg := strategy.ConditionalConfig{
			ProductID:    f.productID,
			Side:         side,
			TotalSize:    size,
			TriggerPrice: trigger,
			Direction:    dir,
			Expiry:       f.expiry,
		}
		if f.price != "" {
			cfg.LimitPrice = mustDecimal(f.price, "")
		}
		if f.takeProfit != "" && f.stopLoss != "" {
			cfg.Bracket = &strategy.BracketConfig{
				TakeProfit: mustDecimal(f.takeProfit, ""),
				StopLoss:   mustDecimal(f.stopLoss, ""),
			}
		}
		return strategy.NewConditional(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", types.ErrInvalidParams, f.strategyName)
	}
}

func printResult(res *strategy.Result) {
	fmt.Println("\n=== EXECUTION RESULT ===")
	fmt.Printf("Execution ID:   %s\n", res.ExecutionID)
	fmt.Printf("Strategy:       %s\n", res.Strategy)
	fmt.Printf("Status:         %s\n", res.Status)
	fmt.Printf("Filled:         %s / %s\n", res.FilledSize, res.TotalSize)
	fmt.Printf("Avg Price:      %s\n", res.AvgPrice)
	fmt.Printf("Fees:           %s\n", res.Fees)
	fmt.Printf("Maker/Taker:    %d / %d\n", res.Makers, res.Takers)
	fmt.Printf("Slices:         %d total, %d filled, %d skipped, %d failed, %d cancelled\n",
		res.NumSlices, res.NumFilled, res.NumSkipped, res.NumFailed, res.NumCancelled)
	for _, o := range res.Outcomes {
		if o.Reason == "" {
			continue
		}
		fmt.Printf("  slice %d:      %s (%s)\n", o.Index, o.Status, o.Reason)
	}
	for k, v := range res.Metadata {
		fmt.Printf("%-15s %s\n", k+":", v)
	}
	fmt.Printf("Elapsed:        %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}
