package aws

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/amipatch/pkg/provider"
)

// MaxObjectBytes caps how much command output is read from one object.
// SSM output objects are small; anything larger is a misconfigured prefix.
const MaxObjectBytes = 64 << 20 // 64 MiB

// s3API is the subset of the S3 client used by ObjectStore.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectStore implements provider.ObjectStore on S3.
type ObjectStore struct {
	client   s3API
	maxBytes int64
}

var _ provider.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore wraps an S3 client.
func NewObjectStore(client s3API) *ObjectStore {
	return &ObjectStore{client: client, maxBytes: MaxObjectBytes}
}

// GetObject returns the full content of an object. Objects larger than
// MaxObjectBytes fail with provider.ErrMalformedResponse rather than being
// returned short.
func (o *ObjectStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError(serviceS3, "GetObject", bucket+"/"+key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, o.maxBytes+1))
	if err != nil {
		return nil, wrapError(serviceS3, "GetObject", bucket+"/"+key, err)
	}
	if int64(len(data)) > o.maxBytes {
		return nil, malformed(serviceS3, "GetObject", bucket+"/"+key, fmt.Sprintf("object exceeds %d bytes", o.maxBytes))
	}
	return data, nil
}
