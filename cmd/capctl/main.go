// Command capctl operates the share capitalization ledger: schema migrations,
// statistics and exports, and an end-to-end smoke check.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"capledger.org/internal/app"
	"capledger.org/internal/config"
	"capledger.org/internal/obs"
)

const version = "0.1.0"

type cli struct {
	cfg     *config.Config
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "capctl",
		Short:         "Share capitalization ledger tooling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			obs.SetupLogger(obs.LogConfig{Level: cfg.LogLevel, FilePath: cfg.LogFile})
			return nil
		},
	}
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "overall deadline for the command")

	root.AddCommand(newMigrateCmd(c))
	root.AddCommand(newStatsCmd(c))
	root.AddCommand(newCapTableCmd(c))
	root.AddCommand(newPortfolioCmd(c))
	root.AddCommand(newExportCmd(c))
	root.AddCommand(newSmokeCmd(c))
	return root
}

// withApp builds the ledger for the duration of fn.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	a, err := app.Build(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			obs.Logger().Error().Err(err).Msg("close backends")
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
