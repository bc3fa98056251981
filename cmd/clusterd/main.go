// Bitcoin address clustering daemon.
//
// Usage:
//
//	clusterd [--start=N --end=M]   Cluster blocks N..M (inclusive)
//	clusterd                       Resume after the last checkpoint
//	clusterd --help                Show help
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/donutAnees/Cluster-Bitcoin-Address/config"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/checkpoint"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/ingest"
	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/metrics"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/rpcclient"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/source"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := config.ParseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'clusterd --help' for usage.")
		return 2
	}
	if flags.Help {
		config.PrintUsage(os.Stdout)
		return 0
	}
	if flags.Version {
		fmt.Printf("clusterd version %s\n", config.Version)
		return 0
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: opening log file: %v\n", err)
		return 1
	}
	logger := klog.WithComponent("clusterd")

	db, err := storage.Open(cfg.Store.Backend, cfg.StorePath())
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.StorePath()).Msg("Failed to open state storage")
		return 1
	}
	defer db.Close()
	store := checkpoint.NewStore(db)

	if err := promptRangeIfNeeded(cfg, store); err != nil {
		logger.Error().Err(err).Msg("Invalid block range")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr, m)
		if err != nil {
			logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Failed to start metrics server")
			return 1
		}
		go func() {
			if err := srv.Serve(ctx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	client := rpcclient.New(rpcclient.Config{
		URL:       cfg.RPCURL(),
		User:      cfg.RPC.User,
		Password:  cfg.RPC.Password,
		Timeout:   cfg.RPC.Timeout,
		RateLimit: cfg.RPC.RateLimit,
	})
	runner := ingest.New(source.NewNodeSource(client), store, ingest.Config{
		Start:    cfg.Range.Start,
		End:      cfg.Range.End,
		HasStart: cfg.Range.HasStart,
		HasEnd:   cfg.Range.HasEnd,
		Interval: cfg.Checkpoint.Interval,
		Workers:  cfg.Fetch.Workers,
	})
	runner.SetRecorder(m)

	logger.Info().
		Str("run_id", runner.RunID()).
		Str("node", client.URL()).
		Str("store", cfg.Store.Backend).
		Str("datadir", cfg.DataDir).
		Msg("Starting clustering run")

	res, err := runner.Run(ctx)
	switch {
	case err == nil:
		logger.Info().
			Uint64("blocks", res.Blocks).
			Int("entities", runner.Engine().Registry().Len()).
			Int("wallets", runner.Engine().Registry().WalletCount()).
			Str("elapsed", res.Elapsed.String()).
			Msg("Clustering complete")
		return 0
	case errors.Is(err, context.Canceled):
		logger.Warn().
			Uint64("height", res.Height).
			Str("elapsed", res.Elapsed.String()).
			Msg("Interrupted, state saved at last completed block")
		return 0
	default:
		logger.Error().Err(err).Str("elapsed", res.Elapsed.String()).Msg("Clustering run failed")
		return 1
	}
}

// promptRangeIfNeeded asks for a block range on an interactive terminal
// when neither bound is configured and there is no checkpoint to resume.
func promptRangeIfNeeded(cfg *config.Config, store *checkpoint.Store) error {
	if cfg.Range.HasStart || cfg.Range.HasEnd {
		return nil
	}
	if _, err := store.Meta(); !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	start, end, err := promptRange(os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	cfg.Range = config.RangeConfig{Start: start, End: end, HasStart: true, HasEnd: true}
	return config.Validate(cfg)
}
