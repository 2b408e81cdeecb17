package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mpataki/flowwatch/internal/catalog"
	"github.com/mpataki/flowwatch/internal/engine"
	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/models"
)

// tailHandler feeds the engine and logs what it did with each event.
type tailHandler struct {
	store  *engine.Store
	logger *slog.Logger
}

func (h *tailHandler) HandleEvent(ev models.ExecutionEvent) {
	if !h.store.Process(ev) {
		h.logger.Debug("event ignored", "workflow", ev.WorkflowID, "node", ev.NodeID)
		return
	}
	h.logger.Info("node status",
		"workflow", ev.WorkflowID,
		"execution", ev.ExecutionID,
		"node", ev.NodeID,
		"status", ev.Status,
	)
}

func (h *tailHandler) HandleConnection(connected bool) {
	h.store.HandleConnection(connected)
	h.logger.Info("connection changed", "connected", connected)
}

func newTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the event stream without a UI, logging every status change",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			cat, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			wf, err := pickWorkflow(cat, workflowID)
			if err != nil {
				return err
			}

			m := metrics.New()
			store := newEngine(cfg, logger, m)
			store.SetActiveWorkflow(wf)

			sup, err := newSupervisor(cfg, &tailHandler{store: store, logger: logger}, logger, m)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sup.Run(ctx) })
			if metricsAddr != "" {
				g.Go(func() error { return m.Serve(ctx, metricsAddr) })
			}

			logger.Info("tailing events", "workflow", wf.ID, "transport", cfg.Stream.Transport)
			return g.Wait()
		},
	}

	cmd.Flags().StringP("workflow", "w", "", "Workflow to follow (default: first in catalog)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	addStreamFlags(cmd)
	return cmd
}

func pickWorkflow(cat *catalog.Catalog, id string) (*models.Workflow, error) {
	if id != "" {
		return cat.Get(id)
	}
	list := cat.List()
	if len(list) == 0 {
		return nil, catalog.ErrNotFound
	}
	return list[0], nil
}
