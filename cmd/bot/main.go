// Command bot runs the paper-trading arbitrage engine across one or more
// profiles. It opens no real orders: every fill is estimated from live books
// and settled against venue outcomes, with results logged per run.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/dashboard"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/engine"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/feed"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/logging"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/runner"
)

var (
	flagConfig   string
	flagProfiles []string
	flagCoins    []string
	flagAuto     bool
	flagHeadless bool
)

func main() {
	root := &cobra.Command{
		Use:   "bot",
		Short: "Paper-trading arbitrage across two binary prediction venues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&flagConfig, "config", "configs/config.yaml", "config file path")
	root.Flags().StringSliceVar(&flagProfiles, "profiles", nil, "profiles to run (default: all)")
	root.Flags().StringSliceVar(&flagCoins, "coins", nil, "coins to trade (default: all configured)")
	root.Flags().BoolVar(&flagAuto, "auto", false, "start trading without confirmation")
	root.Flags().BoolVar(&flagHeadless, "headless", false, "disable the terminal dashboard")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if err := cfg.FilterProfiles(flagProfiles); err != nil {
		return err
	}
	cfg.FilterCoins(flagCoins)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewStdoutLogger(cfg.Logging.Level, cfg.Logging.Format)
	if !flagHeadless {
		// The dashboard owns the terminal; keep stdout logging quiet.
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))
	}
	slog.SetDefault(logger)

	runDir, err := logging.SelectRunDir(cfg.Logging.RunDirBase)
	if err != nil {
		return err
	}
	logger.Info("run directory selected", "dir", runDir)

	system := logging.NewSink(runDir, "system", cfg.Logging.MaxSinkLines)
	mismatch := logging.NewSink(runDir, "mismatch", cfg.Logging.MaxSinkLines)
	defer system.Close()
	defer mismatch.Close()

	var engines []*engine.Engine
	sinks := []*logging.Sink{}
	for _, profile := range cfg.Profiles {
		sink := logging.NewSink(runDir, profile.Name, cfg.Logging.MaxSinkLines)
		sinks = append(sinks, sink)
		engines = append(engines, engine.New(profile, sink, mismatch))
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	spot := feed.NewSpotSource(cfg.Feeds.Spot, logger)
	supplierP := feed.NewPSupplier(cfg.Feeds.P, spot, logger)
	supplierK := feed.NewKSupplier(cfg.Feeds.K, spot, logger)

	var renderer *dashboard.Renderer
	if !flagHeadless {
		renderer = dashboard.NewRenderer()
	}

	r := runner.New(runner.Options{
		EvalIntervalMs: cfg.EvalIntervalMs,
		Engines:        engines,
		SupplierP:      supplierP,
		SupplierK:      supplierK,
		Spot:           spot,
		Coins:          cfg.AllCoins(),
		System:         system,
		Renderer:       renderer,
		AutoStart:      flagAuto,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !flagAuto {
		go waitForEnter(ctx, r)
	}

	system.Log(fmt.Sprintf("starting: profiles=%d coins=%v eval=%dms auto=%v",
		len(cfg.Profiles), cfg.AllCoins(), cfg.EvalIntervalMs, flagAuto), logging.LevelInfo)

	err = r.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete", "run_dir", runDir)
	return nil
}

// waitForEnter arms trading on the first newline from stdin.
func waitForEnter(ctx context.Context, r *runner.Runner) {
	lines := make(chan struct{}, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			lines <- struct{}{}
		}
	}()

	select {
	case <-ctx.Done():
	case <-lines:
		r.Arm()
	}
}
