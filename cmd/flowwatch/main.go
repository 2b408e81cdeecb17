package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpataki/flowwatch/internal/catalog"
	"github.com/mpataki/flowwatch/internal/channel"
	"github.com/mpataki/flowwatch/internal/config"
	"github.com/mpataki/flowwatch/internal/engine"
	"github.com/mpataki/flowwatch/internal/logging"
	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowwatch",
		Short: "Live workflow execution visualizer",
		Long:  "Flowwatch follows a stream of node execution events and shows which step of a workflow is running right now.",
		RunE:  runWatch,
	}
	addWatchFlags(rootCmd)

	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newTailCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newWorkflowsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, w)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, nil
}

func openStorage(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Load(cfg.CatalogDirs)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}
	return cat, nil
}

func newEngine(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *engine.Store {
	return engine.NewStore(engine.Options{
		DecayDelay:   cfg.Engine.DecayDelay,
		HistoryLimit: cfg.Engine.HistoryLimit,
		Logger:       logger,
		Metrics:      m,
	})
}

func newTransport(cfg *config.Config) (channel.Transport, error) {
	switch cfg.Stream.Transport {
	case "sse":
		return channel.NewSSETransport(cfg.Stream.URL), nil
	case "nats":
		return channel.NewNATSTransport(cfg.Stream.NATSURL, cfg.Stream.Subject), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Stream.Transport)
	}
}

func newSupervisor(cfg *config.Config, handler channel.Handler, logger *slog.Logger, m *metrics.Metrics) (*channel.Supervisor, error) {
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := channel.NewPolicy(cfg.Stream.ReconnectPolicy, cfg.Stream.ReconnectDelay)
	if err != nil {
		return nil, err
	}
	return channel.NewSupervisor(channel.Options{
		Transport: transport,
		Handler:   handler,
		Policy:    policy,
		Logger:    logger,
		Metrics:   m,
	}), nil
}

// applyStreamFlags lets --transport and --url override the configured stream.
func applyStreamFlags(cmd *cobra.Command, cfg *config.Config) {
	if transport, _ := cmd.Flags().GetString("transport"); transport != "" {
		cfg.Stream.Transport = transport
	}
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		if cfg.Stream.Transport == "nats" {
			cfg.Stream.NATSURL = url
		} else {
			cfg.Stream.URL = url
		}
	}
}

func addStreamFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Event stream URL (overrides config)")
	cmd.Flags().String("transport", "", "Event stream transport: sse or nats")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
