package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/logger"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/retry"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Run the postback retry scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.close()

		s := retry.NewScheduler(d.retries, d.dispatcher, retry.Options{
			PollInterval: d.cfg.Retry.PollInterval,
			BatchSize:    d.cfg.Retry.BatchSize,
			WorkerCount:  d.cfg.Retry.WorkerCount,
		}, logger.Log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
