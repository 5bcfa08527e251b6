// Package ingest consumes relayed upload notifications and materializes
// catalog rows for freshly uploaded objects. Row metadata is read back from
// object headers rather than carried in the notification.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/mstolbov/cloudfiles/internal/bridge/broker"
	"github.com/mstolbov/cloudfiles/internal/bridge/models"
	"github.com/mstolbov/cloudfiles/internal/bridge/objstore"
	"github.com/mstolbov/cloudfiles/internal/bridge/repositories/nodes"
	"github.com/mstolbov/cloudfiles/internal/dbx"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

type objectHeader interface {
	Head(ctx context.Context, key string) (objstore.ObjectInfo, error)
}

// objectMeta is the user metadata the upload client attaches to every
// object; keys arrive lowercased from the object store.
type objectMeta struct {
	FileID    string
	ParentID  string
	OwnerID   string
	Path      string
	Overwrite bool
}

type Consumer struct {
	messages  broker.Consumer
	publisher broker.Publisher
	objects   objectHeader
	tx        dbx.TxRunner
	repo      nodes.Repository
	logger    logging.Logger
}

func NewConsumer(messages broker.Consumer, publisher broker.Publisher, objects objectHeader, tx dbx.TxRunner, repo nodes.Repository, logger logging.Logger) *Consumer {
	return &Consumer{
		messages:  messages,
		publisher: publisher,
		objects:   objects,
		tx:        tx,
		repo:      repo,
		logger:    logger.With("component", "ingest"),
	}
}

// Run consumes until ctx is done. A notification that cannot be processed
// is reported to the ingest-error topic and skipped; duplicates are expected
// (the relay is at-least-once) and rejected by the live-path unique index.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info(ctx, "ingest consumer started")

	for {
		msg, err := c.messages.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info(ctx, "ingest consumer stopped")
				return
			}
			c.logger.Error(ctx, "fetch failed", "error", err.Error())
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			c.logger.Error(ctx, "ingest failed", "offset", msg.Offset, "error", err.Error())
			c.reportFailure(ctx, msg, err)
		}
		if err := c.messages.Commit(ctx, msg); err != nil {
			c.logger.Error(ctx, "offset commit failed", "offset", msg.Offset, "error", err.Error())
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg broker.Message) error {
	var n models.UploadNotification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return fmt.Errorf("unparseable upload notification: %w", err)
	}

	info, err := c.objects.Head(ctx, n.StorageKey)
	if err != nil {
		return err
	}

	meta, err := parseMeta(info.Metadata)
	if err != nil {
		return err
	}

	file := &models.File{
		ID:         meta.FileID,
		ParentID:   meta.ParentID,
		OwnerID:    meta.OwnerID,
		Path:       meta.Path,
		StorageKey: n.StorageKey,
		MimeType:   info.ContentType,
		Size:       info.ContentLength,
	}

	err = c.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		delta := info.ContentLength

		if meta.Overwrite {
			prior, ok, err := c.repo.TombstoneFileAtPath(ctx, tx, meta.OwnerID, meta.Path)
			if err != nil {
				return err
			}
			if ok {
				delta -= prior
			}
		}

		if err := c.repo.CreateFile(ctx, tx, file); err != nil {
			return err
		}
		return c.repo.PropagateSizeDelta(ctx, tx, meta.ParentID, delta)
	})
	if err != nil {
		return err
	}

	c.logger.Info(ctx, "file row created", "id", file.ID, "path", file.Path, "size", file.Size)
	return nil
}

func parseMeta(m map[string]string) (objectMeta, error) {
	meta := objectMeta{
		FileID:    m["fileid"],
		ParentID:  m["parentid"],
		OwnerID:   m["createdbyid"],
		Overwrite: m["overwrite"] == "true",
	}

	if meta.FileID == "" || meta.ParentID == "" || meta.OwnerID == "" {
		return objectMeta{}, fmt.Errorf("object metadata incomplete: %v", m)
	}

	// The upload client stores the path percent-encoded.
	path, err := url.PathUnescape(m["filesystempath"])
	if err != nil || path == "" {
		return objectMeta{}, fmt.Errorf("object metadata path invalid: %q", m["filesystempath"])
	}
	meta.Path = path

	return meta, nil
}

// ingestFailure is the diagnostic record published for operators when a
// notification cannot be turned into a catalog row.
type ingestFailure struct {
	StorageKey string    `json:"s3Key"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failedAt"`
}

func (c *Consumer) reportFailure(ctx context.Context, msg broker.Message, cause error) {
	payload, err := json.Marshal(ingestFailure{
		StorageKey: string(msg.Key),
		Error:      cause.Error(),
		FailedAt:   time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.publisher.Publish(ctx, broker.TopicIngestErrors, msg.Key, payload); err != nil {
		c.logger.Error(ctx, "failure report publish failed", "error", err.Error())
	}
}
