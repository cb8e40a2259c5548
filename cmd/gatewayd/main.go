// Command gatewayd runs the transaction-relay gateway: intake, the
// per-sender queue processor, the block monitor, the notifier, the
// housekeeper, and the client-facing HTTP/WebSocket API, all wired
// against one state store, cache, and chain client.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toshi-network/eth-gateway/internal/api"
	"github.com/toshi-network/eth-gateway/internal/cache"
	"github.com/toshi-network/eth-gateway/internal/chain"
	"github.com/toshi-network/eth-gateway/internal/config"
	"github.com/toshi-network/eth-gateway/internal/housekeeper"
	"github.com/toshi-network/eth-gateway/internal/intake"
	"github.com/toshi-network/eth-gateway/internal/logging"
	"github.com/toshi-network/eth-gateway/internal/metrics"
	"github.com/toshi-network/eth-gateway/internal/monitor"
	"github.com/toshi-network/eth-gateway/internal/notify"
	"github.com/toshi-network/eth-gateway/internal/queue"
	"github.com/toshi-network/eth-gateway/internal/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "Ethereum wallet gateway: intake, queueing, confirmation, and notifications",
		RunE:  runServe,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config file (defaults + env vars apply otherwise)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// gasFloorRetry is the fixed 60s deferral the queue processor schedules
// when a sender's price sits below the cached safe-low floor.
const gasFloorRetry = 60 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base := logging.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.Dial(ctx, cfg.Ethereum.URL)
	if err != nil {
		return fmt.Errorf("dial ethereum node: %w", err)
	}
	defer chainClient.Close()

	st, err := store.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	ch, err := cache.New(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer ch.Close()

	hub := notify.NewWSHub(nil, nil, logging.Component(base, "push"))
	notifier := notify.New(st, hub, cfg.Ethereum.NetworkID, logging.Component(base, "notify"))

	processor := queue.New(chainClient, st, ch, notifier, queue.Config{
		ProcessingLockTTL: cfg.ProcessingLockTTL,
		GasFloorRetry:     gasFloorRetry,
	}, logging.Component(base, "queue"))

	ix := intake.New(chainClient, st, ch, notifier, processor, intake.Config{
		DefaultGas:         cfg.DefaultGas,
		DefaultGasPriceWei: big.NewInt(cfg.DefaultGasPriceWei),
		SubmissionLockTTL:  cfg.SubmissionLockTTL,
	}, logging.Component(base, "intake"))

	blockMonitor := monitor.New(chainClient, st, notifier, processor, monitor.Config{
		PollInterval: cfg.BlockMonitorInterval,
		BatchSize:    cfg.BlockMonitorBatchSize,
	}, logging.Component(base, "monitor"))

	keeper := housekeeper.New(st, chainClient, ch, processor, housekeeper.Config{
		Interval:      cfg.SanityInterval,
		StaleAfter:    3 * time.Minute,
		OracleURL:     cfg.GasOracle.URL,
		OracleTimeout: 10 * time.Second,
	}, logging.Component(base, "housekeeper"))

	server := api.New(ix, st, chainClient, hub, cfg.Ethereum.NetworkID, logging.Component(base, "api"))

	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	go blockMonitor.Run(ctx)
	go keeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		base.Info().Str("addr", cfg.HTTP.Addr).Msg("gatewayd listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}
