// Package objstore is the S3-backed object-store boundary: metadata lookup
// by key and batched deletion for the trash purge.
package objstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mstolbov/cloudfiles/internal/bridge/config"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

// deleteObjectsLimit is the S3 DeleteObjects per-call maximum.
const deleteObjectsLimit = 1000

// ObjectInfo is the subset of object headers the ingest consumer needs.
type ObjectInfo struct {
	Metadata      map[string]string
	ContentType   string
	ContentLength int64
}

type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type Client struct {
	api    s3API
	bucket string
	logger logging.Logger
}

func NewClient(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		}
		o.UsePathStyle = true
	})

	return NewClientWithAPI(api, cfg.S3Bucket, logger), nil
}

// NewClientWithAPI injects the S3 API directly; used by tests.
func NewClientWithAPI(api s3API, bucket string, logger logging.Logger) *Client {
	return &Client{api: api, bucket: bucket, logger: logger}
}

// Head reads object headers and user metadata by key.
func (c *Client) Head(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head object %s: %w", key, err)
	}

	info := ObjectInfo{
		Metadata:    out.Metadata,
		ContentType: aws.ToString(out.ContentType),
	}
	if out.ContentLength != nil {
		info.ContentLength = *out.ContentLength
	}
	return info, nil
}

// DeleteBatch removes the given keys, splitting into DeleteObjects calls of
// at most 1000 keys. Per-key failures (already-deleted objects and the like)
// are logged and not treated as fatal; only a failed call aborts.
func (c *Client) DeleteBatch(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), deleteObjectsLimit)
		chunk := keys[:n]
		keys = keys[n:]

		objects := make([]s3types.ObjectIdentifier, 0, len(chunk))
		for _, k := range chunk {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &s3types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}

		for _, e := range out.Errors {
			c.logger.Warn(ctx, "object delete failed",
				"key", aws.ToString(e.Key),
				"code", aws.ToString(e.Code),
				"message", aws.ToString(e.Message))
		}
	}

	return nil
}
