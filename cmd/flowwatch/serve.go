package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mpataki/flowwatch/internal/catalog"
	"github.com/mpataki/flowwatch/internal/hub"
	"github.com/mpataki/flowwatch/internal/metrics"
	"github.com/mpataki/flowwatch/internal/orchestrator"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event hub that watchers connect to",
		Long: "Serve accepts execution events on POST /events and streams them to every " +
			"watcher on GET /events. With --demo it also plays simulated runs of every workflow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			listen, _ := cmd.Flags().GetString("listen")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			demo, _ := cmd.Flags().GetBool("demo")
			interval, _ := cmd.Flags().GetDuration("interval")
			natsURL, _ := cmd.Flags().GetString("nats")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Server.ListenAddr
			}
			if metricsAddr == "" {
				metricsAddr = cfg.Server.MetricsAddr
			}
			if interval <= 0 {
				interval = cfg.Server.DemoInterval
			}

			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			m := metrics.New()
			h := hub.New(hub.Options{
				Heartbeat: cfg.Server.HeartbeatInterval,
				Logger:    logger,
				Metrics:   m,
			})

			var (
				orch *orchestrator.Orchestrator
				cat  *catalog.Catalog
			)
			if demo {
				cat, err = loadCatalog(cfg)
				if err != nil {
					return err
				}
				store, err := openStorage(cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				var pub orchestrator.Publisher = h
				if natsURL != "" {
					np, err := hub.NewNATSPublisher(natsURL, cfg.Stream.Subject)
					if err != nil {
						return err
					}
					defer np.Close()
					pub = orchestrator.MultiPublisher{h, np}
				}

				orch = orchestrator.New(store, pub, orchestrator.Options{
					StepDelay: cfg.Server.StepDelay,
					Logger:    logger,
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return h.Serve(ctx, listen) })
			if metricsAddr != "" {
				g.Go(func() error { return m.Serve(ctx, metricsAddr) })
			}
			if orch != nil {
				g.Go(func() error { return orch.Demo(ctx, cat.List(), interval) })
				logger.Info("demo runs enabled", "interval", interval, "workflows", cat.Len())
			}

			return g.Wait()
		},
	}

	cmd.Flags().String("listen", "", "Address for the event hub (default from config)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Bool("demo", false, "Play simulated runs of every workflow")
	cmd.Flags().Duration("interval", 0, "Time between demo runs")
	cmd.Flags().String("nats", "", "Also publish demo events to this NATS server")
	return cmd
}
