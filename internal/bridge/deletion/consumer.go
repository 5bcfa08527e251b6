package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mstolbov/cloudfiles/internal/bridge/broker"
	"github.com/mstolbov/cloudfiles/internal/bridge/models"
	"github.com/mstolbov/cloudfiles/internal/common"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

// DefaultRetryThreshold is the number of failures tolerated per message
// before it is dead-lettered.
const DefaultRetryThreshold = 3

type subtreeSweeper interface {
	Sweep(ctx context.Context, ev models.DeletionRootEvent, beat BeatFunc) error
}

// Consumer drives the cascading delete from the deletion-root topic.
// Messages are processed one at a time; the offset is committed only after a
// fully successful sweep, so a crash mid-sweep redelivers the whole message.
type Consumer struct {
	messages  broker.Consumer
	publisher broker.Publisher
	sweeper   subtreeSweeper
	threshold int
	logger    logging.Logger
}

func NewConsumer(messages broker.Consumer, publisher broker.Publisher, sweeper subtreeSweeper, threshold int, logger logging.Logger) *Consumer {
	if threshold <= 0 {
		threshold = DefaultRetryThreshold
	}
	return &Consumer{
		messages:  messages,
		publisher: publisher,
		sweeper:   sweeper,
		threshold: threshold,
		logger:    logger.With("component", "deletion-consumer"),
	}
}

// PublishRoot publishes a deletion-root event, keyed by folder id. Called by
// the mutation layer once per user-initiated folder deletion.
func PublishRoot(ctx context.Context, p broker.Publisher, ev models.DeletionRootEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal deletion root: %w", err)
	}
	return p.Publish(ctx, broker.TopicDeletionRoot, []byte(ev.FolderID), payload)
}

// Run consumes until ctx is done. The retry state lives in process memory
// only: a restart resets it, so a message that exhausted its retries before
// the restart is retried again instead of dead-lettered immediately. The
// sweep's idempotence bounds that cost to wasted work.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info(ctx, "deletion consumer started")
	retries := make(map[string]int)

	for {
		msg, err := c.messages.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info(ctx, "deletion consumer stopped")
				return
			}
			c.logger.Error(ctx, "fetch failed", "error", err.Error())
			continue
		}

		c.handle(ctx, msg, retries)
	}
}

func (c *Consumer) handle(ctx context.Context, msg broker.Message, retries map[string]int) {
	key := retryKey(msg)

	for ctx.Err() == nil {
		err := c.process(ctx, msg)
		if err == nil {
			delete(retries, key)
			c.commit(ctx, msg)
			return
		}

		// Parse failures and invariant violations cannot be fixed by
		// retrying; they skip the retry budget entirely.
		if errors.Is(err, common.ErrPermanent) {
			c.logger.Error(ctx, "permanent failure, dead-lettering", "offset", msg.Offset, "error", err.Error())
			delete(retries, key)
			c.deadLetter(ctx, msg)
			return
		}

		retries[key]++
		if retries[key] >= c.threshold {
			c.logger.Error(ctx, "retries exhausted, dead-lettering",
				"offset", msg.Offset, "attempts", retries[key], "error", err.Error())
			delete(retries, key)
			c.deadLetter(ctx, msg)
			return
		}

		c.logger.Warn(ctx, "sweep failed, redelivering",
			"offset", msg.Offset, "attempt", retries[key], "error", err.Error())
	}
}

func (c *Consumer) process(ctx context.Context, msg broker.Message) error {
	var ev models.DeletionRootEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("%w: unparseable deletion event: %v", common.ErrPermanent, err)
	}

	return c.sweeper.Sweep(ctx, ev, c.beat(msg))
}

// beat is the per-batch liveness signal. The group reader heartbeats from
// its own goroutine; this hook additionally aborts the sweep promptly on
// shutdown and leaves a progress trail.
func (c *Consumer) beat(msg broker.Message) BeatFunc {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.logger.Debug(ctx, "sweep in progress", "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
}

// deadLetter republishes the original message bytes verbatim and commits
// past it. If the dead-letter publish itself fails the offset stays
// uncommitted and the message comes back later.
func (c *Consumer) deadLetter(ctx context.Context, msg broker.Message) {
	if err := c.publisher.Publish(ctx, broker.TopicDeletionDLQ, msg.Key, msg.Value); err != nil {
		c.logger.Error(ctx, "dead-letter publish failed, offset not committed", "error", err.Error())
		return
	}
	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg broker.Message) {
	if err := c.messages.Commit(ctx, msg); err != nil {
		c.logger.Error(ctx, "offset commit failed", "offset", msg.Offset, "error", err.Error())
	}
}

func retryKey(msg broker.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
