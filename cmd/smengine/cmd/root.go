// Package cmd provides CLI command implementations
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/SMEngine/pkg/config"
	"github.com/ChrisMcGann/SMEngine/pkg/dataset"
	"github.com/ChrisMcGann/SMEngine/pkg/export"
	"github.com/ChrisMcGann/SMEngine/pkg/imager"
	"github.com/ChrisMcGann/SMEngine/pkg/index"
	"github.com/ChrisMcGann/SMEngine/pkg/job"
	"github.com/ChrisMcGann/SMEngine/pkg/queue"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

var (
	// Global flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "smengine",
	Short: "SMEngine - imaging mass spectrometry annotation engine",
	Long: `SMEngine annotates imaging mass spectrometry datasets against molecular
databases and reports annotations at a controlled false discovery rate.

Datasets are stored in a relational store (SQLite or PostgreSQL), accepted
annotations are exported to a local search index, and jobs are either run
in-process or distributed through RabbitMQ.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file (defaults plus SM_* environment if not set)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(moldbCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(daemonCmd)
}

// app holds the services shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	index     *index.Index
	publisher *queue.AMQPPublisher // nil in local mode
	manager   *dataset.Manager
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(cfg.Index.Path, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st, index: ix}
	var pub queue.Publisher
	if !cfg.Local() {
		p, err := queue.DialPublisher(cfg.Queue.URL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = p
		pub = p
	}
	a.manager = dataset.NewManager(st, ix, export.NewIndexExporter(st, ix, logger), pub, logger)
	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close publisher", "error", err)
		}
	}
	if err := a.index.Close(); err != nil {
		a.logger.Warn("failed to close index", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func (a *app) searchJob() *job.SearchJob {
	s := a.cfg.Search
	opts := job.DefaultOptions()
	opts.Reconstruct = imager.Config{
		Workers:         s.Workers,
		PartitionSize:   s.PartitionSize,
		NoiseFloor:      s.NoiseFloor,
		MaxSkipFraction: s.MaxSkipFraction,
	}
	opts.DecoySampleSize = s.DecoySampleSize
	opts.Seed = s.Seed
	return job.New(a.store, a.manager, export.NewIndexExporter(a.store, a.index, a.logger), opts, a.logger)
}
