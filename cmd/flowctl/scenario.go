package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"botflow/internal/adapters/repository"
)

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Work with YAML scenario files",
	}
	cmd.AddCommand(newScenarioValidateCmd())
	return cmd
}

func newScenarioValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check scenario files for a valid entry node and node references",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				sc, err := repository.LoadScenarioFile(path)
				if err == nil {
					err = sc.Validate()
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL\t%s\t%v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "OK\t%s\t%s (%d nodes)\n", path, sc.ID, len(sc.Nodes))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenario files invalid", failed, len(args))
			}
			return nil
		},
	}
}
