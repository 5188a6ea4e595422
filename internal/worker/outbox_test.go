package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

type fakeOutbox struct {
	pending []model.OutboxEvent
	sent    []int64
	failed  []int64
}

func (f *fakeOutbox) Insert(context.Context, *sqlx.Tx, string, string, string, []byte) error {
	return nil
}

func (f *fakeOutbox) FetchPending(_ context.Context, batchSize int) ([]model.OutboxEvent, error) {
	n := batchSize
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id int64) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakePublisher struct {
	failTopics map[string]bool
	published  []string // topic/key pairs
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, _ []byte) error {
	if f.failTopics[topic] {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, topic+"/"+string(key))
	return nil
}

func TestOutboxRelay_PublishesAndMarksSent(t *testing.T) {
	outbox := &fakeOutbox{pending: []model.OutboxEvent{
		{ID: 1, AggregateID: "77", Topic: "postback.send", Payload: []byte(`{}`), Attempts: 1},
		{ID: 2, AggregateID: "78", Topic: "postback.send", Payload: []byte(`{}`), Attempts: 1},
	}}
	pub := &fakePublisher{}
	relay := NewOutboxRelay(outbox, pub, zap.NewNop())

	relay.Tick(context.Background())

	assert.Equal(t, []string{"postback.send/77", "postback.send/78"}, pub.published)
	assert.Equal(t, []int64{1, 2}, outbox.sent)
	assert.Empty(t, outbox.failed)
}

func TestOutboxRelay_FailureLeavesRowForReclaim(t *testing.T) {
	outbox := &fakeOutbox{pending: []model.OutboxEvent{
		{ID: 5, AggregateID: "80", Topic: "postback.send", Attempts: 2},
	}}
	pub := &fakePublisher{failTopics: map[string]bool{"postback.send": true}}
	relay := NewOutboxRelay(outbox, pub, zap.NewNop())

	relay.Tick(context.Background())

	assert.Empty(t, outbox.sent)
	assert.Empty(t, outbox.failed, "row below the attempt budget stays leased for reclaim")
}

func TestOutboxRelay_ExhaustedRowIsParkedAsFailed(t *testing.T) {
	outbox := &fakeOutbox{pending: []model.OutboxEvent{
		{ID: 9, AggregateID: "81", Topic: "postback.send", Attempts: 10},
	}}
	pub := &fakePublisher{failTopics: map[string]bool{"postback.send": true}}
	relay := NewOutboxRelay(outbox, pub, zap.NewNop())

	relay.Tick(context.Background())

	assert.Equal(t, []int64{9}, outbox.failed)
}
