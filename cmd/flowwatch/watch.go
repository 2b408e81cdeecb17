package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mpataki/flowwatch/internal/catalog"
	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/tui"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live workflow view",
		RunE:  runWatch,
	}
	addWatchFlags(cmd)
	return cmd
}

func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("workflow", "w", "", "Workflow to show first")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	addStreamFlags(cmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	workflowID, _ := cmd.Flags().GetString("workflow")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyStreamFlags(cmd, cfg)
	if metricsAddr == "" {
		metricsAddr = cfg.Server.MetricsAddr
	}

	// The TUI owns the terminal, so logs go to a file.
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	logger, err := newLogger(cfg, logFile)
	if err != nil {
		return err
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	store := newEngine(cfg, logger, m)

	app, err := tui.NewApp(store, cat, tui.Options{
		Workflow:      workflowID,
		TimelineLimit: cfg.Engine.TimelineLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to start view: %w", err)
	}
	defer app.Close()

	sup, err := newSupervisor(cfg, store, logger, m)
	if err != nil {
		return err
	}

	p := tea.NewProgram(app, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sup.Run(ctx) })

	watcher, err := catalog.NewWatcher(cfg.CatalogDirs, 0, func(c *catalog.Catalog) {
		p.Send(tui.CatalogReloaded(c))
	}, logger)
	if err != nil {
		logger.Warn("workflow reload disabled", "error", err)
	} else {
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if metricsAddr != "" {
		g.Go(func() error { return m.Serve(ctx, metricsAddr) })
	}

	logger.Info("watch started", "transport", cfg.Stream.Transport, "workflows", cat.Len())
	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("background task failed", "error", err)
	}
	return runErr
}
