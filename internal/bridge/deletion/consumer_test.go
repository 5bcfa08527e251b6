package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstolbov/cloudfiles/internal/bridge/broker"
	"github.com/mstolbov/cloudfiles/internal/bridge/models"
	"github.com/mstolbov/cloudfiles/internal/common"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

type fakeSweeper struct {
	calls int
	errs  []error // error per call, nil-padded after exhaustion
}

func (f *fakeSweeper) Sweep(ctx context.Context, ev models.DeletionRootEvent, beat BeatFunc) error {
	if err := beat(ctx); err != nil {
		return err
	}
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

type fakeMessages struct {
	broker.Consumer
	committed []broker.Message
}

func (f *fakeMessages) Commit(ctx context.Context, m broker.Message) error {
	f.committed = append(f.committed, m)
	return nil
}

type fakeDLQ struct {
	messages []published
	err      error
}

type published struct {
	topic string
	key   []byte
	value []byte
}

func (f *fakeDLQ) Publish(ctx context.Context, topic string, key, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic: topic, key: key, value: value})
	return nil
}

func deletionMsg(t *testing.T, offset int64) broker.Message {
	t.Helper()
	b, err := json.Marshal(models.DeletionRootEvent{FolderID: "a", OwnerID: "u1", Path: "/a/"})
	require.NoError(t, err)
	return broker.Message{Topic: broker.TopicDeletionRoot, Partition: 0, Offset: offset, Key: []byte("a"), Value: b}
}

func newTestConsumer(msgs *fakeMessages, dlq *fakeDLQ, sw subtreeSweeper) *Consumer {
	return NewConsumer(msgs, dlq, sw, 3, logging.NewJSONLogger())
}

func TestHandle_SuccessCommits(t *testing.T) {
	msgs := &fakeMessages{}
	dlq := &fakeDLQ{}
	sw := &fakeSweeper{}
	c := newTestConsumer(msgs, dlq, sw)

	retries := make(map[string]int)
	c.handle(context.Background(), deletionMsg(t, 7), retries)

	assert.Equal(t, 1, sw.calls)
	require.Len(t, msgs.committed, 1)
	assert.Equal(t, int64(7), msgs.committed[0].Offset)
	assert.Empty(t, dlq.messages)
	assert.Empty(t, retries)
}

func TestHandle_TransientFailuresRetriedThenSucceed(t *testing.T) {
	msgs := &fakeMessages{}
	dlq := &fakeDLQ{}
	sw := &fakeSweeper{errs: []error{errors.New("db down"), errors.New("db down")}}
	c := newTestConsumer(msgs, dlq, sw)

	retries := make(map[string]int)
	c.handle(context.Background(), deletionMsg(t, 1), retries)

	assert.Equal(t, 3, sw.calls, "two failures then success")
	assert.Len(t, msgs.committed, 1)
	assert.Empty(t, dlq.messages)
	assert.Empty(t, retries, "counter cleared after success")
}

func TestHandle_ThresholdDeadLettersVerbatimAndCommits(t *testing.T) {
	msgs := &fakeMessages{}
	dlq := &fakeDLQ{}
	sw := &fakeSweeper{errs: []error{
		errors.New("db down"), errors.New("db down"), errors.New("db down"), errors.New("db down"),
	}}
	c := newTestConsumer(msgs, dlq, sw)

	msg := deletionMsg(t, 2)
	retries := make(map[string]int)
	c.handle(context.Background(), msg, retries)

	assert.Equal(t, 3, sw.calls, "third failure hits the threshold")
	require.Len(t, dlq.messages, 1)
	assert.Equal(t, broker.TopicDeletionDLQ, dlq.messages[0].topic)
	assert.Equal(t, msg.Value, dlq.messages[0].value, "dead letter must be byte-identical")
	assert.Equal(t, msg.Key, dlq.messages[0].key)
	assert.Len(t, msgs.committed, 1, "offset committed past the message")
	assert.Empty(t, retries)
}

func TestHandle_UnparseablePayloadDeadLettersImmediately(t *testing.T) {
	msgs := &fakeMessages{}
	dlq := &fakeDLQ{}
	sw := &fakeSweeper{}
	c := newTestConsumer(msgs, dlq, sw)

	msg := broker.Message{Topic: broker.TopicDeletionRoot, Offset: 3, Value: []byte("not json")}
	c.handle(context.Background(), msg, make(map[string]int))

	assert.Equal(t, 0, sw.calls)
	require.Len(t, dlq.messages, 1)
	assert.Equal(t, []byte("not json"), dlq.messages[0].value)
	assert.Len(t, msgs.committed, 1)
}

func TestHandle_PermanentErrorSkipsRetryBudget(t *testing.T) {
	msgs := &fakeMessages{}
	dlq := &fakeDLQ{}
	sw := &fakeSweeper{errs: []error{
		fmt.Errorf("%w: parent folder missing", common.ErrPermanent),
	}}
	c := newTestConsumer(msgs, dlq, sw)

	c.handle(context.Background(), deletionMsg(t, 4), make(map[string]int))

	assert.Equal(t, 1, sw.calls, "no retries for invariant violations")
	assert.Len(t, dlq.messages, 1)
	assert.Len(t, msgs.committed, 1)
}

func TestHandle_DeadLetterPublishFailureLeavesOffsetUncommitted(t *testing.T) {
	msgs := &fakeMessages{}
	dlq := &fakeDLQ{err: errors.New("broker down")}
	sw := &fakeSweeper{errs: []error{
		errors.New("x"), errors.New("x"), errors.New("x"),
	}}
	c := newTestConsumer(msgs, dlq, sw)

	c.handle(context.Background(), deletionMsg(t, 5), make(map[string]int))

	assert.Empty(t, msgs.committed, "commit must not happen if the dead letter was lost")
}

func TestPublishRoot(t *testing.T) {
	dlq := &fakeDLQ{}
	ev := models.DeletionRootEvent{FolderID: "a", OwnerID: "u1", Path: "/a/"}

	require.NoError(t, PublishRoot(context.Background(), dlq, ev))

	require.Len(t, dlq.messages, 1)
	assert.Equal(t, broker.TopicDeletionRoot, dlq.messages[0].topic)
	assert.Equal(t, []byte("a"), dlq.messages[0].key)

	var got models.DeletionRootEvent
	require.NoError(t, json.Unmarshal(dlq.messages[0].value, &got))
	assert.Equal(t, ev, got)
}
