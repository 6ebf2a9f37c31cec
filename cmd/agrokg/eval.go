package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bbiangul/agrokg"
	"github.com/bbiangul/agrokg/eval"
)

func (a *app) newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval DATASET",
		Short: "Measure retrieval quality against a YAML dataset of queries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := eval.LoadDataset(args[0])
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				report, err := eval.NewEvaluator(eng).Run(cmd.Context(), ds)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), report)
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), eval.FormatReport(report))
				return err
			})
		},
	}
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}
