package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpataki/flowwatch/internal/hub"
	"github.com/mpataki/flowwatch/internal/lua"
	"github.com/mpataki/flowwatch/internal/orchestrator"
)

func newSimulateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <workflow>",
		Short: "Publish the events of one simulated run",
		Long: "Simulate walks a workflow from its trigger, or plays a Lua scenario against it, " +
			"and publishes each node's events to the hub. Every run is journaled.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, _ := cmd.Flags().GetString("script")
			failAt, _ := cmd.Flags().GetString("fail-at")
			failMessage, _ := cmd.Flags().GetString("fail-message")
			branches, _ := cmd.Flags().GetStringToString("branch")
			hubURL, _ := cmd.Flags().GetString("hub")
			natsURL, _ := cmd.Flags().GetString("nats")
			stepDelay, _ := cmd.Flags().GetDuration("step-delay")
			maxSteps, _ := cmd.Flags().GetInt("max-steps")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if hubURL == "" {
				hubURL = cfg.Stream.URL
			}
			if !cmd.Flags().Changed("step-delay") {
				stepDelay = cfg.Server.StepDelay
			}

			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			cat, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			wf, err := cat.Get(args[0])
			if err != nil {
				return err
			}

			if script != "" && !lua.IsScenario(script) {
				return fmt.Errorf("not a Lua scenario: %s", script)
			}

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var pub orchestrator.Publisher = hub.NewClient(hubURL)
			if natsURL != "" {
				np, err := hub.NewNATSPublisher(natsURL, cfg.Stream.Subject)
				if err != nil {
					return err
				}
				defer np.Close()
				pub = orchestrator.MultiPublisher{pub, np}
			}

			orch := orchestrator.New(store, pub, orchestrator.Options{
				StepDelay: stepDelay,
				Logger:    logger,
			})

			source := orchestrator.SourceGraph
			if script != "" {
				source = script
			}
			run, err := orch.StartRun(wf, source)
			if err != nil {
				return fmt.Errorf("failed to start run: %w", err)
			}

			fmt.Printf("Created run #%d\n", run.ID)
			fmt.Printf("Execution: %s\n", run.ExecutionID)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if script != "" {
				err = orch.ExecuteLua(ctx, run, wf, script)
			} else {
				err = orch.Execute(ctx, run, wf, orchestrator.Plan{
					FailAt:      failAt,
					FailMessage: failMessage,
					Branches:    branches,
					MaxSteps:    maxSteps,
				})
			}

			// Re-fetch run to get updated status
			if latest, getErr := orch.GetRun(run.ID); getErr == nil {
				run = latest
			}
			fmt.Printf("Run finished with status: %s\n", run.Status)
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			if err != nil && !errors.Is(err, orchestrator.ErrStuck) {
				return fmt.Errorf("simulation failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("script", "", "Lua scenario to play instead of walking the graph")
	cmd.Flags().String("fail-at", "", "Node that reports an error")
	cmd.Flags().String("fail-message", "", "Error message for --fail-at")
	cmd.Flags().StringToString("branch", nil, "Edge to take out of a node, as node=target")
	cmd.Flags().String("hub", "", "Hub URL (default: stream url from config)")
	cmd.Flags().String("nats", "", "Also publish to this NATS server")
	cmd.Flags().Duration("step-delay", orchestrator.DefaultStepDelay, "Time each node spends running")
	cmd.Flags().Int("max-steps", orchestrator.DefaultMaxSteps, "Give up after this many nodes")
	return cmd
}
