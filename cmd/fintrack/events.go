package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fintrack/internal/amqp"
	"fintrack/internal/app"
	"fintrack/internal/cli"
	"fintrack/internal/migrations"
	"fintrack/internal/worker"
)

func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Consume transaction events and check them against the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cfg.AMQPEnabled() {
				return errors.New("AMQP_URL is not set")
			}
			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()

			a, err := app.Bootstrap(ctx, cfg, migrations.Catalog(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
			if err != nil {
				return fmt.Errorf("connect to AMQP: %w", err)
			}
			defer client.Close()

			w := worker.NewEventWorker(a.Store, logger)
			err = client.Consume(ctx, func(e *amqp.TransactionEvent) error {
				return w.HandleEvent(ctx, e)
			})
			stats := w.Stats()
			logger.Info("Event consumer stopped",
				"processed", stats.Processed,
				"stale", stats.Stale,
				"ignored", stats.Ignored)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
