package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/keywatch/internal/api"
	"github.com/good-yellow-bee/keywatch/internal/metrics"
	"github.com/good-yellow-bee/keywatch/pkg/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scan scheduler",
	Long: `Run scans on the configured interval until interrupted. The monitor
file is watched and reloaded on change. With http.enabled the status API,
health probes and /metrics are served.`,
	RunE: runKeywatch,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runKeywatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	sched := eng.newScheduler()

	var srv *api.Server
	if cfg.HTTP.Enabled {
		if srv, err = eng.newAPI(sched); err != nil {
			return fmt.Errorf("create api server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})
	g.Go(func() error {
		eng.watchConfig(gctx)
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("run api server: %w", err)
			}
			return nil
		})
	}

	if addr := cfg.Metrics.Address; addr != "" {
		ms := metrics.NewServer(addr, logger)
		g.Go(ms.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(shutdownCtx)
		})
	}

	logger.Info("keywatch started",
		zap.String("version", config.Version),
		zap.String("monitors", cfg.Monitors))

	err = g.Wait()
	logger.Info("keywatch stopped")
	return err
}
