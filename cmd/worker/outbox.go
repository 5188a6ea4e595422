package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/kafka"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/logger"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/worker"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Relay committed outbox rows to Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.close()

		publisher := kafka.NewPublisher(d.cfg.Kafka.Brokers)
		defer publisher.Close()

		relay := worker.NewOutboxRelay(d.outbox, publisher, logger.Log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("outbox relay started",
			zap.Strings("brokers", d.cfg.Kafka.Brokers),
			zap.Duration("poll_interval", relay.PollInterval),
		)

		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
