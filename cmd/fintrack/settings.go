package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
	"fintrack/internal/core"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write application settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print a setting, or its default when unset",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
					v, err := a.Store.GetSetting(ctx, args[0], core.SettingDefaults[args[0]])
					if err != nil {
						return err
					}
					fmt.Println(v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Set a setting",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
					return a.Store.SetSetting(ctx, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
					settings, err := a.Store.ListSettings(ctx)
					if err != nil {
						return err
					}
					for _, s := range settings {
						fmt.Printf("%s=%s\n", s.Key, s.Value)
					}
					return nil
				})
			},
		},
	)
	return cmd
}
