package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backo/internal/daemon"
	"backo/internal/db"
	"backo/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		dispatcher := daemon.NewDispatcher(cfg)
		reaper := daemon.NewReaper(cfg, dispatcher)
		srv := daemon.NewServer(dispatcher, cfg.DaemonPort)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return dispatcher.Run(gctx) })
		g.Go(func() error { return reaper.Run(gctx) })

		srv.Start()

		logger.Log.Info("backo daemon started",
			zap.Int("port", cfg.DaemonPort),
			zap.String("db", cfg.DBPath))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Log.Info("shutting down",
				zap.String("signal", sig.String()))
		case <-srv.StopCh():
			logger.Log.Info("stop requested via API")
		}

		cancel()
		_ = g.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Log.Warn("server shutdown failed", zap.Error(err))
		}

		return db.Close()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
