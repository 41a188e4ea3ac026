package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fintrack/internal/connection"
	"fintrack/internal/migrations"
	"fintrack/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and move the database schema version",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, mg *storage.Migrator, _ []string) error {
				return mg.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, mg *storage.Migrator, _ []string) error {
				return mg.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "goto VERSION",
			Short: "Migrate up or down to VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(ctx context.Context, mg *storage.Migrator, args []string) error {
				v, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				return mg.Goto(ctx, v)
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied and clear the dirty flag without running scripts",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(_ context.Context, mg *storage.Migrator, args []string) error {
				v, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				return mg.Force(v)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(_ context.Context, mg *storage.Migrator, _ []string) error {
				status, err := mg.Status()
				if err != nil {
					return err
				}
				fmt.Printf("%s at version %d (latest %d)", mg.Target(), status.Current, status.Latest)
				if status.Dirty {
					fmt.Print(", dirty")
				}
				fmt.Println()
				for _, v := range status.Versions {
					mark := " "
					if v.Applied {
						mark = "x"
					}
					fmt.Printf("[%s] %d %s\n", mark, v.Version, v.Description)
				}
				return nil
			}),
		},
	)
	return cmd
}

func withMigrator(fn func(ctx context.Context, mg *storage.Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		target, err := connection.Resolve(cfg)
		if err != nil {
			return err
		}
		mg, err := storage.NewMigrator(cmd.Context(), target, migrations.Catalog(), logger)
		if err != nil {
			return err
		}
		defer mg.Close()
		return fn(cmd.Context(), mg, args)
	}
}

func parseVersion(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return uint(v), nil
}
