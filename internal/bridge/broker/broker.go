// Package broker wraps the Kafka client behind small publish/consume
// interfaces so pipeline components can be exercised without a live cluster.
package broker

import "context"

// Topic and consumer-group names used by the bridge.
const (
	TopicFileUploaded = "file-uploaded"
	TopicDeletionRoot = "mark-children-for-delete-topic"
	TopicDeletionDLQ  = "mark-children-for-deletion-dlq"
	TopicIngestErrors = "error-while-file-upload-processing"

	GroupIngest   = "db-record-creator"
	GroupDeletion = "marking-for-delete"
)

// Message is a consumed broker record. Partition and Offset identify it for
// commit bookkeeping and retry accounting.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Publisher sends one record to a topic. The call returns only after the
// broker has acknowledged the write.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Consumer is a single-partition-ordered message source with manual commit.
// Fetch blocks until a message is available or ctx is done. A message is
// redelivered after restart unless Commit was called for it.
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
	Close() error
}
