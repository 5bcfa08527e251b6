// Package relay ferries storage-provider upload notifications from the SQS
// event queue into the internal broker. Forwarding is at-least-once: a
// source message is deleted only after its events were published, so a
// publish failure leaves it for visibility-timeout redelivery.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/mstolbov/cloudfiles/internal/bridge/broker"
	"github.com/mstolbov/cloudfiles/internal/bridge/models"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

const (
	receiveBatchSize = 10
	waitTimeSeconds  = 10
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// s3EventEnvelope mirrors the storage provider's notification shape. Only
// the object key and bucket name are extracted; entries lacking them are
// skipped.
type s3EventEnvelope struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

type Relay struct {
	queue     sqsAPI
	publisher broker.Publisher
	queueURL  string
	bucket    string
	logger    logging.Logger
}

func New(queue sqsAPI, publisher broker.Publisher, queueURL, bucket string, logger logging.Logger) *Relay {
	return &Relay{
		queue:     queue,
		publisher: publisher,
		queueURL:  queueURL,
		bucket:    bucket,
		logger:    logger.With("component", "relay"),
	}
}

// Run long-polls the source queue until ctx is done. Forwarding failures are
// logged and the message is left in place; the queue's own redelivery is the
// relay's sole retry mechanism.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info(ctx, "relay started", "queue", r.queueURL)

	for ctx.Err() == nil {
		if err := r.poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error(ctx, "receive failed", "error", err.Error())
			time.Sleep(time.Second)
		}
	}

	r.logger.Info(ctx, "relay stopped")
}

func (r *Relay) poll(ctx context.Context) error {
	out, err := r.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(r.queueURL),
		MaxNumberOfMessages: receiveBatchSize,
		WaitTimeSeconds:     waitTimeSeconds,
	})
	if err != nil {
		return err
	}

	for _, msg := range out.Messages {
		if err := r.forward(ctx, msg); err != nil {
			// Left on the queue; redelivered after the visibility timeout.
			r.logger.Error(ctx, "forward failed, leaving message on queue", "error", err.Error())
		}
	}

	return nil
}

// forward publishes every event embedded in one source notification and then
// deletes the notification. Order matters: deletion must come last.
func (r *Relay) forward(ctx context.Context, msg sqstypes.Message) error {
	var envelope s3EventEnvelope
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &envelope); err != nil {
		// Not an S3 event notification (e.g. a test message); drop it.
		r.logger.Warn(ctx, "unparseable notification, dropping", "error", err.Error())
		return r.delete(ctx, msg)
	}

	for _, record := range envelope.Records {
		key := record.S3.Object.Key
		if key == "" {
			continue
		}

		bucket := record.S3.Bucket.Name
		if bucket == "" {
			bucket = r.bucket
		}

		payload, err := json.Marshal(models.UploadNotification{
			StorageKey: key,
			Bucket:     bucket,
		})
		if err != nil {
			return fmt.Errorf("marshal upload notification: %w", err)
		}

		if err := r.publisher.Publish(ctx, broker.TopicFileUploaded, []byte(key), payload); err != nil {
			return err
		}

		r.logger.Info(ctx, "relayed upload event", "key", key)
	}

	return r.delete(ctx, msg)
}

func (r *Relay) delete(ctx context.Context, msg sqstypes.Message) error {
	_, err := r.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete source message: %w", err)
	}
	return nil
}
