package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"capledger.org/internal/migrate"
	"capledger.org/internal/obs"
	"capledger.org/internal/store/pg"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
				if err := m.Up(ctx); err != nil {
					return err
				}
				obs.Logger().Info().Msg("migrations applied")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
				return m.Down(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(cmd, func(ctx context.Context, m *migrate.Manager) error {
				v, dirty, err := m.Version(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "files",
		Short: "List the embedded migration files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := migrate.Files()
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	})
	return cmd
}

func (c *cli) withManager(cmd *cobra.Command, fn func(ctx context.Context, m *migrate.Manager) error) error {
	if c.cfg.Postgres.DSN == "" {
		return errors.New("missing DSN: set PG_DSN")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	store, err := pg.Open(ctx, c.cfg.Postgres.DSN, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, migrate.NewManager(store.DB()))
}
