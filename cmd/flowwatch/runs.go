package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent simulated runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Printf("#%d %s [%s] %s %s\n",
					run.ID, run.WorkflowID, run.Status,
					humanize.Time(run.CreatedAt),
					truncate(run.Source, 40))
			}

			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and the events it published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d: %s\n", run.ID, run.WorkflowID)
			fmt.Printf("Status: %s\n", run.Status)
			fmt.Printf("Execution: %s\n", run.ExecutionID)
			fmt.Printf("Source: %s\n", run.Source)
			fmt.Printf("Started: %s\n", humanize.Time(run.CreatedAt))
			if run.CompletedAt != nil {
				fmt.Printf("Took: %s\n", run.CompletedAt.Sub(run.CreatedAt).Round(time.Millisecond))
			}
			if run.CurrentNode != "" {
				fmt.Printf("Current Node: %s\n", run.CurrentNode)
			}
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			steps, err := store.GetStepsForRun(runID)
			if err != nil {
				return err
			}

			if len(steps) > 0 {
				fmt.Println("\nEvents:")
				for _, step := range steps {
					line := fmt.Sprintf("  %d. %s [%s]", step.SequenceNum, step.NodeID, step.Status)
					if step.ExecutionID != run.ExecutionID {
						line += " exec " + truncate(step.ExecutionID, 11)
					}
					if step.Data != nil && step.Data.Error != "" {
						line += ": " + step.Data.Error
					}
					fmt.Println(line)
				}
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
}
