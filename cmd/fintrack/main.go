package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/migrations"
)

var (
	envFile string

	cfg    *config.Config
	logger *log.Logger
)

// configFree marks commands that run without a database configuration.
const configFree = "config-free"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fintrack:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fintrack",
		Short:         "Personal finance tracker backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.LoadEnvFile(envFile); err != nil {
				return err
			}
			if _, ok := cmd.Annotations[configFree]; ok {
				logger = cli.SetupLogger(config.Load().LogLevel)
				return nil
			}
			var err error
			if cfg, err = cli.LoadAndValidateConfig(); err != nil {
				return err
			}
			logger = cli.SetupLogger(cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate the database and run the recurring, backup and event services",
		Args:  cobra.NoArgs,
		RunE:  runApp,
	}

	rootCmd.AddCommand(runCmd, migrateCmd(), settingsCmd(), eventsCmd())
	rootCmd.AddCommand(dataCmds()...)
	return rootCmd
}

func runApp(cmd *cobra.Command, args []string) error {
	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	logger.Info("Starting fintrack", log.FieldOperation, log.OpStartup)
	return app.New(cfg, logger).
		Plugin(app.NewEventsPlugin()).
		Plugin(app.NewRecurringPlugin()).
		Plugin(app.NewBackupPlugin()).
		Run(ctx)
}

// withApp bootstraps the database for a one-shot command. Events are
// published when AMQP is configured.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.Context) error) error {
	a, err := app.Bootstrap(ctx, cfg, migrations.Catalog(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	events := app.NewEventsPlugin()
	if err := events.Init(ctx, a); err != nil {
		return err
	}
	defer events.Close()

	return fn(ctx, a)
}
