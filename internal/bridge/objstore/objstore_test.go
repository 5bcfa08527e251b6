package objstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstolbov/cloudfiles/internal/logging"
)

type fakeS3 struct {
	headOut   *s3.HeadObjectOutput
	headErr   error
	deleteIn  []*s3.DeleteObjectsInput
	deleteOut *s3.DeleteObjectsOutput
	deleteErr error
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.headOut, f.headErr
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deleteIn = append(f.deleteIn, in)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	if f.deleteOut != nil {
		return f.deleteOut, nil
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestHead(t *testing.T) {
	api := &fakeS3{headOut: &s3.HeadObjectOutput{
		Metadata:      map[string]string{"fileid": "f1"},
		ContentType:   aws.String("application/pdf"),
		ContentLength: aws.Int64(1234),
	}}
	c := NewClientWithAPI(api, "bucket", logging.NewJSONLogger())

	info, err := c.Head(context.Background(), "u1/f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", info.Metadata["fileid"])
	assert.Equal(t, "application/pdf", info.ContentType)
	assert.Equal(t, int64(1234), info.ContentLength)
}

func TestHead_Error(t *testing.T) {
	api := &fakeS3{headErr: errors.New("no such key")}
	c := NewClientWithAPI(api, "bucket", logging.NewJSONLogger())

	_, err := c.Head(context.Background(), "missing")
	require.Error(t, err)
}

func TestDeleteBatch_ChunksAt1000(t *testing.T) {
	api := &fakeS3{}
	c := NewClientWithAPI(api, "bucket", logging.NewJSONLogger())

	keys := make([]string, 1500)
	for i := range keys {
		keys[i] = "k"
	}

	require.NoError(t, c.DeleteBatch(context.Background(), keys))
	require.Len(t, api.deleteIn, 2)
	assert.Len(t, api.deleteIn[0].Delete.Objects, 1000)
	assert.Len(t, api.deleteIn[1].Delete.Objects, 500)
}

func TestDeleteBatch_PerKeyErrorsNotFatal(t *testing.T) {
	api := &fakeS3{deleteOut: &s3.DeleteObjectsOutput{
		Errors: []s3types.Error{{
			Key:     aws.String("gone"),
			Code:    aws.String("NoSuchKey"),
			Message: aws.String("already deleted"),
		}},
	}}
	c := NewClientWithAPI(api, "bucket", logging.NewJSONLogger())

	require.NoError(t, c.DeleteBatch(context.Background(), []string{"gone", "live"}))
}

func TestDeleteBatch_CallFailureIsFatal(t *testing.T) {
	api := &fakeS3{deleteErr: errors.New("s3 down")}
	c := NewClientWithAPI(api, "bucket", logging.NewJSONLogger())

	require.Error(t, c.DeleteBatch(context.Background(), []string{"k"}))
}
