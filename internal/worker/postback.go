package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/kafka"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/postback"
)

// PostbackConsumer drains the postback topic: one fetcher, a pool of
// processors, offsets committed only after the dispatcher has recorded the
// attempt. A malformed message is logged and committed; replaying it cannot
// make it parseable.
type PostbackConsumer struct {
	Consumer   *kafka.Consumer
	Dispatcher *postback.Dispatcher
	Workers    int
	Log        *zap.Logger
}

func NewPostbackConsumer(consumer *kafka.Consumer, dispatcher *postback.Dispatcher, workers int, log *zap.Logger) *PostbackConsumer {
	if workers <= 0 {
		workers = 16
	}
	return &PostbackConsumer{
		Consumer:   consumer,
		Dispatcher: dispatcher,
		Workers:    workers,
		Log:        log,
	}
}

// Run blocks until ctx is cancelled.
func (w *PostbackConsumer) Run(ctx context.Context) error {
	msgCh := make(chan kafka.Message, w.Workers*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Log.Error("kafka fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runProcessor(ctx, msgCh)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (w *PostbackConsumer) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			w.processOne(ctx, m)
		}
	}
}

func (w *PostbackConsumer) processOne(ctx context.Context, m kafka.Message) {
	var req model.PostbackRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		w.Log.Error("drop malformed postback message",
			zap.String("key", string(m.Key)),
			zap.Error(err),
		)
		_ = w.Consumer.Commit(ctx, m)
		return
	}

	res, err := w.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		// render/lookup failure: nothing a redelivery would fix
		w.Log.Error("postback dispatch failed",
			zap.Int64("campaign_id", req.CampaignID),
			zap.String("tracking", req.Tracking),
			zap.Error(err),
		)
	} else {
		w.Log.Info("postback dispatched",
			zap.Int64("campaign_id", req.CampaignID),
			zap.String("tracking", req.Tracking),
			zap.String("result", res.Result),
			zap.Bool("retry_scheduled", res.RetryScheduled),
		)
	}

	if err := w.Consumer.Commit(ctx, m); err != nil && ctx.Err() == nil {
		w.Log.Error("kafka commit failed", zap.Error(err))
	}
}
