package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/radiusdt/insights-cache/internal/collector"
	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/database"
	"github.com/radiusdt/insights-cache/internal/httpserver"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Use:           "insights-cache",
	Short:         "Ad platform conversion metrics with a period summary cache",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve period metrics over HTTP and run the collector schedule",
	RunE:  runServe,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect closed periods into the summary store",
	Long: "Collect closed periods into the summary store. Without --from the most\n" +
		"recently closed period is collected; with --from/--to every closed period\n" +
		"in the span is backfilled.",
	RunE: runCollect,
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back database migrations",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

var (
	collectType string
	collectFrom string
	collectTo   string
)

func init() {
	collectCmd.Flags().StringVar(&collectType, "type", "weekly", "summary type: weekly or monthly")
	collectCmd.Flags().StringVar(&collectFrom, "from", "", "backfill start date (YYYY-MM-DD)")
	collectCmd.Flags().StringVar(&collectTo, "to", "", "backfill end date (YYYY-MM-DD), defaults to today")
	rootCmd.AddCommand(serveCmd, collectCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting insights-cache",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("timezone", cfg.Server.Timezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Collector.Enabled {
		if err := a.collector.Start(ctx); err != nil {
			return err
		}
	}
	go a.reportDBStats(ctx, 15*time.Second)

	deps := &httpserver.Dependencies{
		Service:   a.service,
		Directory: a.directory,
		Config:    cfg,
		Logger:    logger,
		Metrics:   a.metrics,
	}
	if a.db != nil {
		deps.DB = a.db
	}
	if a.redis != nil {
		deps.Redis = a.redis
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpserver.NewServer(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Cache.FetchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	a.collector.Stop(shutdownCtx)

	logger.Info("server stopped")
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	t := models.SummaryType(strings.ToLower(collectType))
	if t != models.SummaryWeekly && t != models.SummaryMonthly {
		return fmt.Errorf("unknown summary type %q", collectType)
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	var res collector.Result
	if collectFrom == "" {
		res, err = a.collector.CollectPrevious(ctx, t)
	} else {
		var from, to time.Time
		if from, err = period.ParseDate(collectFrom); err != nil {
			return err
		}
		to = period.NewResolver(cfg.Location()).Today(time.Now())
		if collectTo != "" {
			if to, err = period.ParseDate(collectTo); err != nil {
				return err
			}
		}
		res, err = a.collector.Backfill(ctx, t, from, to)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: written=%d failed=%d\n", t, res.Written, res.Failed)
	return err
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dir := database.MigrateUp
	if len(args) == 1 {
		switch args[0] {
		case "up":
		case "down":
			dir = database.MigrateDown
		default:
			return fmt.Errorf("unknown migrate direction %q", args[0])
		}
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	return database.Migrate(cfg.Database, dir, logger)
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() || cfg.Log.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
