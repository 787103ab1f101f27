package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/rpc"
	"ibkr-copilot/internal/server"
)

const drainTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, market-data relay and tool transport",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := initializeSystem(); err != nil {
		return err
	}
	defer shutdownSystem(context.Background())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	a := newApp(ctx, cfg)

	sessions := rpc.NewSessions(cfg.RPC.SessionQueueSize)
	pool := rpc.NewPool(cfg.RPC.Workers)
	dispatcher := rpc.NewDispatcher(a.catalog, sessions, pool,
		rpc.WithServerInfo(rpc.ServerInfo{Name: "ibkr-copilot", Version: version}),
		rpc.WithCallTimeout(time.Duration(cfg.RPC.CallTimeoutSecs)*time.Second),
	)

	g, gctx := errgroup.WithContext(ctx)
	srv := server.New(gctx, server.ConfigFromStore(cfg), a.gateway, a.relay, rpc.NewHandler(dispatcher, 0))

	if cfg.MarketData.AutoConnect {
		a.relay.Start(gctx)
	}

	g.Go(func() error {
		return a.trades.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sessions.CloseAll()

		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := pool.Shutdown(drainCtx); err != nil {
			logger.Warn(drainCtx, "Tool calls still running at shutdown were cancelled", "error", err)
		}
		return nil
	})

	logger.Info(ctx, "Copilot started", "addr", cfg.Server.Addr, "version", version)
	err = g.Wait()
	logger.Info(context.Background(), "Copilot stopped")
	return err
}
