package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"github.com/mstolbov/cloudfiles/internal/logging"
)

// KafkaPublisher publishes to any topic through one shared writer.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, clientID string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Transport:              &kafka.Transport{ClientID: clientID},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// KafkaConsumer wraps a consumer-group reader with manual offset commits.
type KafkaConsumer struct {
	r *kafka.Reader
}

func NewKafkaConsumer(brokers []string, groupID, topic string) *KafkaConsumer {
	return &KafkaConsumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			// Long sweeps must not get the consumer evicted from the group;
			// the reader keeps heartbeating in the background, but processing
			// past this deadline would still stall partition delivery, so the
			// sweep additionally reports liveness per batch to its caller.
			HeartbeatInterval: 3 * time.Second,
			MaxWait:           10 * time.Second,
		}),
	}
}

func (c *KafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
	}, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, kafka.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	})
}

func (c *KafkaConsumer) Close() error {
	return c.r.Close()
}

// WaitForBroker blocks until a broker from the list accepts a connection.
// Connection setup failures at startup are retried indefinitely with capped
// exponential backoff; the expectation is eventual external remediation.
func WaitForBroker(ctx context.Context, logger logging.Logger, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	b := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			logger.Warn(ctx, "kafka broker not reachable, retrying", "broker", brokers[0], "error", err.Error())
			return retry.RetryableError(err)
		}
		_ = conn.Close()
		return nil
	})
}
