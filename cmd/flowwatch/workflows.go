package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpataki/flowwatch/internal/catalog"
)

func newWorkflowsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List the workflows in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			check, _ := cmd.Flags().GetBool("check")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cat, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			problems := 0
			for _, wf := range cat.List() {
				fmt.Printf("%-20s %2d nodes  %s\n", wf.ID, len(wf.Nodes), truncate(wf.Name, 40))
				if !check {
					continue
				}
				for _, p := range catalog.Lint(wf) {
					fmt.Printf("  ! %v\n", p)
					problems++
				}
			}

			if problems > 0 {
				cmd.SilenceUsage = true
				return fmt.Errorf("%d problem(s) found", problems)
			}
			return nil
		},
	}

	cmd.Flags().Bool("check", false, "Report structural problems in each definition")
	return cmd
}
