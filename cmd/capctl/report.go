package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"capledger.org/internal/app"
	"capledger.org/internal/report"
)

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <company-id>",
		Short: "Print company share statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Ledger.GetCompanyShareStatistics(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newCapTableCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cap-table <company-id>",
		Short: "Print the holder breakdown of a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ct, err := a.Ledger.GetCapTable(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ct)
			})
		},
	}
}

func newPortfolioCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio <shareholder-id>",
		Short: "Print a shareholder's holdings across companies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				p, err := a.Ledger.GetShareholderPortfolio(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func newExportCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <company-id>",
		Short: "Write the cap table workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ct, err := a.Ledger.GetCapTable(ctx, args[0])
				if err != nil {
					return err
				}
				classes, err := a.Ledger.GetShareClassStatistics(ctx, args[0])
				if err != nil {
					return err
				}
				body, err := report.NewXLSX().Generate(ctx, ct, classes)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = fmt.Sprintf("cap-table-%s.xlsx", args[0])
				}
				if err := os.WriteFile(path, body, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(body))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default cap-table-<company-id>.xlsx)")
	return cmd
}
