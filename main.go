package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"swap-metrics-indexer/boff"
	"swap-metrics-indexer/chain"
	"swap-metrics-indexer/config"
	"swap-metrics-indexer/database"
	"swap-metrics-indexer/indexer"
	"swap-metrics-indexer/logger"
	"swap-metrics-indexer/server"
	"swap-metrics-indexer/stats"

	"github.com/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()

	logger.SyncFileLogger()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts, err := config.ParseArgs(args)
	if err != nil {
		return errors.Wrap(err, "Argument error")
	}

	cfg, err := config.BuildConfig(opts.ConfigFile)
	if err != nil {
		return errors.Wrap(err, "Config error")
	}
	opts.Apply(cfg)
	if cfg.Indexer.ContractAddress == "" {
		return errors.New("Config error: contract address is required (--address or CONTRACT_ADDRESS)")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "Config error")
	}

	config.GlobalConfigCallback.Call(cfg)
	logger.Info("Running with configuration: chain: %s, database: %s", cfg.Chain.NodeURL, cfg.DB.Driver)

	chainType, err := chain.ParseChainType(cfg.Chain.ChainType)
	if err != nil {
		return errors.Wrap(err, "Config error")
	}

	db, err := database.ConnectAndInitialize(ctx, &cfg.DB)
	if err != nil {
		return errors.Wrap(err, "Database connect and initialize error")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn("Database close error: %s", err)
		}
	}()

	client, err := chain.DialRPCNode(cfg.Chain.NodeURL, chainType, cfg.Chain.ChainID)
	if err != nil {
		return errors.Wrap(err, "RPC node error")
	}
	defer client.Close()

	policy := boff.Policy{MaxTries: uint(cfg.Indexer.MaxRetries), Delay: cfg.Indexer.RetryDelay()}
	if err := boff.RetryNoReturn(ctx, policy, func() error {
		return client.VerifyChainID(ctx)
	}, "VerifyChainID"); err != nil {
		return errors.Wrap(err, "RPC node error")
	}

	if srv := indexer.InitMetricsServer(&cfg.Metrics); srv != nil {
		defer srv.Close()
	}

	cIndexer, err := indexer.CreateBlockIndexer(cfg, db, client)
	if err != nil {
		return errors.Wrap(err, "Indexer init error")
	}
	logger.Info("Indexing swaps of %s on a %s chain %d node", cIndexer.Contract().Hex(), client.Type(), cfg.Chain.ChainID)

	if _, err := cIndexer.Scan(ctx, opts.Incremental); err != nil {
		return errors.Wrap(err, "Scan error")
	}

	agg := stats.NewAggregator(db, cfg.Stats)

	if opts.Export != "" {
		if err := server.Export(ctx, agg, opts.Export); err != nil {
			return errors.Wrap(err, "Export error")
		}
	}

	if !opts.Serve {
		return nil
	}

	if cfg.Server.ScanSchedule != "" {
		scheduler, err := indexer.NewScheduler(cIndexer, cfg.Server.ScanSchedule)
		if err != nil {
			return errors.Wrap(err, "Scheduler error")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	return server.Serve(ctx, cfg.Server.Address(), server.NewRouter(agg), cfg.Server.ShutdownTimeout())
}
