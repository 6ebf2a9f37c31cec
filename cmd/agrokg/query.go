package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/bbiangul/agrokg"
	"github.com/bbiangul/agrokg/retrieval"
)

func (a *app) newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query registered uses and label text",
	}
	cmd.AddCommand(a.newStructuredCmd(), a.newVectorCmd(), a.newHybridCmd())
	return cmd
}

func (a *app) newStructuredCmd() *cobra.Command {
	var f retrieval.Filters
	cmd := &cobra.Command{
		Use:   "structured",
		Short: "Find registered uses by weed, crop, product, jurisdiction or mode of action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				res, err := eng.StructuredQuery(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&f.Weed, "weed", "", "weed name or alias")
	cmd.Flags().StringVar(&f.Crop, "crop", "", "crop name or alias")
	cmd.Flags().StringVar(&f.RegistrationNumber, "registration", "", "product registration number")
	cmd.Flags().StringVar(&f.Jurisdiction, "jurisdiction", "", "jurisdiction code or name")
	cmd.Flags().StringVar(&f.ModeOfAction, "mode", "", "mode of action group")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows (default 100)")
	return cmd
}

func (a *app) newVectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vector TEXT...",
		Short: "Find label chunks similar to the text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("k")
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				res, err := eng.VectorQuery(cmd.Context(), strings.Join(args, " "), k)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().Int("k", 5, "number of chunks")
	return cmd
}

func (a *app) newHybridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hybrid TEXT...",
		Short: "Rank entities by text similarity with their registered uses attached",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("k")
			withTrace, _ := cmd.Flags().GetBool("trace")
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				res, trace, err := eng.HybridQuery(cmd.Context(), strings.Join(args, " "), k)
				if err != nil {
					return err
				}
				if withTrace {
					return printJSON(cmd.OutOrStdout(), map[string]any{"results": res, "trace": trace})
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().Int("k", 5, "number of results")
	cmd.Flags().Bool("trace", false, "include the retrieval trace")
	return cmd
}

func (a *app) newRotationCmd() *cobra.Command {
	var weed, crop, group string
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "List uses for a weed and crop from other mode of action groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				res, err := eng.RotationOptions(cmd.Context(), weed, crop, group)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&weed, "weed", "", "weed name or alias")
	cmd.Flags().StringVar(&crop, "crop", "", "crop name or alias")
	cmd.Flags().StringVar(&group, "group", "", "mode of action group currently in use")
	_ = cmd.MarkFlagRequired("weed")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func (a *app) newProductCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "product REGISTRATION_NUMBER",
		Short: "Show a product with its constituents, modes of action and uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				res, err := eng.ProductDetails(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if res == nil {
					cmd.PrintErrf("no product registered as %s\n", args[0])
					return nil
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (a *app) newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search weed|crop TERM",
		Short: "Search weeds or crops by name or alias",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), false, func(eng agrokg.Engine) error {
				res, err := eng.SearchEntities(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
