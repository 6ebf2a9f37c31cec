package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bbiangul/agrokg"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create constraints and indexes and seed reference data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				report, err := eng.Initialize(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func (a *app) newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every node and relationship, then re-initialise",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("reset deletes all graph data; pass --yes to confirm")
			}
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				report, err := eng.Reset(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().Bool("yes", false, "confirm deletion")
	return cmd
}

func (a *app) newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show node and relationship counts and the most used weeds and crops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			top, _ := cmd.Flags().GetInt("top")
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				sum, err := eng.Summary(cmd.Context(), top)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().Int("top", 10, "number of weeds and crops to list")
	return cmd
}
