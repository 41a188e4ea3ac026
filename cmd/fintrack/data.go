package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

func dataCmds() []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "incur",
			Short: "Generate transactions for every due recurring transaction",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
					processor := services.NewRecurringProcessor(a.Store, a.Transactions, logger)
					res, err := processor.ProcessDue(ctx, time.Now())
					fmt.Printf("checked %d, generated %d, failed %d\n", res.Checked, res.Generated, res.Failed)
					return err
				})
			},
		},
		{
			Use:   "backup",
			Short: "Write a database snapshot to BACKUP_DIR",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
					path, err := services.NewBackupService(a.Store, cfg.BackupDir, logger).Backup(ctx)
					if err != nil {
						return err
					}
					fmt.Println(path)
					return nil
				})
			},
		},
		{
			Use:   "export FILE",
			Short: "Export transactions as CSV (- for stdout)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
					w, closeFn, err := createOutput(args[0])
					if err != nil {
						return err
					}
					n, err := services.ExportCSV(ctx, a.Store, w, logger)
					if cerr := closeFn(); err == nil {
						err = cerr
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "exported %d transactions\n", n)
					return nil
				})
			},
		},
		{
			Use:   "import FILE",
			Short: "Import transactions from CSV in a single database transaction",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					n, err := services.ImportCSV(ctx, a.Transactions, f)
					if err != nil {
						return err
					}
					fmt.Printf("imported %d transactions\n", n)
					return nil
				})
			},
		},
		{
			Use:         "validate FILE",
			Short:       "Check that FILE is a fintrack database with the current schema",
			Args:        cobra.ExactArgs(1),
			Annotations: map[string]string{configFree: ""},
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := storage.ValidateDatabase(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("%s is valid\n", args[0])
				return nil
			},
		},
	}
}

func createOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
