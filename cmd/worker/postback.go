package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/kafka"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/logger"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/worker"
)

var postbackCmd = &cobra.Command{
	Use:   "postback",
	Short: "Consume confirmed campaigns from Kafka and deliver postbacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.close()

		groupID := d.cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "xafra-postback"
		}

		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        d.cfg.Kafka.Brokers,
			Topic:          d.cfg.Kafka.PostbackTopic,
			GroupID:        groupID,
			MinBytes:       d.cfg.Kafka.MinBytes,
			MaxBytes:       d.cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(d.cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		w := worker.NewPostbackConsumer(consumer, d.dispatcher, d.cfg.Postback.WorkerCount, logger.Log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("postback worker started",
			zap.String("topic", d.cfg.Kafka.PostbackTopic),
			zap.String("group", groupID),
			zap.Int("workers", w.Workers),
		)

		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
