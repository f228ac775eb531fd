package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/insoblok/inso-txpool/internal/chainstate"
	"github.com/insoblok/inso-txpool/internal/config"
	"github.com/insoblok/inso-txpool/internal/execution"
	"github.com/insoblok/inso-txpool/internal/genesis"
	"github.com/insoblok/inso-txpool/internal/metrics"
	"github.com/insoblok/inso-txpool/internal/producer"
	"github.com/insoblok/inso-txpool/internal/rpc"
	"github.com/insoblok/inso-txpool/internal/snapshot"
	"github.com/insoblok/inso-txpool/internal/txpool"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the pool node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setupLogging(&cfg.Logging); err != nil {
			return err
		}
		return run(cfg)
	},
}

func run(cfg *config.Config) error {
	logger := log.New("module", "main")
	logger.Info("InSo txpool starting", "version", version)

	store, err := chainstate.Open(cfg.DataDir, cfg.Chain.Params())
	if err != nil {
		return fmt.Errorf("open chain state: %w", err)
	}
	defer store.Close()
	logger.Info("Chain state opened", "dataDir", cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := importGenesis(ctx, cfg, store); err != nil {
		return err
	}
	height, err := store.CurrentBlockHeight()
	if err != nil {
		return err
	}
	logger.Info("Chain state ready", "height", height)

	met := metrics.New()

	svc := txpool.NewService(&cfg.TxPool, &cfg.Chain, store)
	svc.SetMetrics(met)
	go svc.Start(ctx)
	pool := svc.Client()

	exec := execution.NewExecutor(store, cfg.Chain.BlockGasLimit)
	if cfg.Producer.Enabled {
		p := producer.New(&cfg.Producer, pool, pool, exec)
		p.SetMetrics(met)
		go p.Start(ctx)
	}

	handler := rpc.NewHandler(pool, store, cfg.Chain.Params())
	handler.SetReceiptStore(exec.Receipts())
	handler.SetMetrics(met)
	handler.SetAdminMethods(cfg.RPC.AdminMethods)

	ws := rpc.NewWSSubscriptionManager(handler)
	ws.Start(ctx, svc)

	server := rpc.NewServer(&cfg.RPC, handler, ws)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = met.Serve(cfg.Metrics.Addr)
	}

	logger.Info("InSo txpool is running",
		"http", cfg.RPC.ListenAddr,
		"ws", cfg.RPC.WSAddr,
		"maxTx", cfg.TxPool.MaxTx,
		"maxDepth", cfg.TxPool.MaxDepth,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-svc.Done():
		logger.Error("Transaction pool stopped unexpectedly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during RPC shutdown", "err", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := pool.Stop(shutdownCtx); err != nil && !errors.Is(err, txpool.ErrProcessorStopped) {
		logger.Error("Error stopping transaction pool", "err", err)
	}
	cancel()

	logger.Info("InSo txpool stopped gracefully")
	return nil
}

// importGenesis loads the configured snapshot, or the devnet state when none
// is configured, into an empty database.
func importGenesis(ctx context.Context, cfg *config.Config, store *chainstate.Store) error {
	logger := log.New("module", "main")

	var dec *snapshot.Decoder
	if cfg.Snapshot.Dir != "" {
		var err error
		if dec, err = snapshot.DetectEncoding(cfg.Snapshot.Dir, cfg.Snapshot.GroupSize); err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
	} else {
		dec = snapshot.InMemory(genesis.DefaultState(), cfg.Snapshot.GroupSize)
	}

	err := genesis.Import(ctx, store, dec)
	switch {
	case errors.Is(err, genesis.ErrAlreadyInitialized):
		logger.Debug("Genesis already imported")
		return nil
	case err != nil:
		return fmt.Errorf("import genesis: %w", err)
	}
	logger.Info("Genesis imported", "snapshot", cfg.Snapshot.Dir)
	return nil
}
