package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3ObjectStore struct {
	Client *s3.S3
	Bucket string
}

// NewS3ObjectStore builds a client from the default credential chain. A
// non-empty endpoint targets an S3-compatible service.
func NewS3ObjectStore(bucket, region, endpoint string, forcePathStyle bool) (*S3ObjectStore, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	if forcePathStyle {
		cfg = cfg.WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return &S3ObjectStore{Client: s3.New(sess), Bucket: bucket}, nil
}

func (os *S3ObjectStore) PutObject(ctx context.Context, key string, data io.ReadSeeker, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:       &os.Bucket,
		Key:          &key,
		Body:         data,
		CacheControl: aws.String("max-age=3600"),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := os.Client.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf(
			"putting object in bucket `%s` at key `%s`: %w",
			os.Bucket,
			key,
			err,
		)
	}
	return nil
}

func (os *S3ObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	rsp, err := os.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &os.Bucket,
		Key:    &key,
	})
	if err != nil {
		if err, ok := err.(awserr.Error); ok {
			if err.Code() == s3.ErrCodeNoSuchKey {
				return nil, &ObjectNotFoundErr{Bucket: os.Bucket, Key: key}
			}
		}
		return nil, fmt.Errorf(
			"getting object from bucket `%s` at key `%s`: %w",
			os.Bucket,
			key,
			err,
		)
	}
	return rsp.Body, nil
}

func (os *S3ObjectStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	if err := os.Client.ListObjectsPagesWithContext(
		ctx,
		&s3.ListObjectsInput{
			Bucket: &os.Bucket,
			Prefix: &prefix,
		},
		func(rsp *s3.ListObjectsOutput, lastPage bool) bool {
			for _, object := range rsp.Contents {
				keys = append(keys, *object.Key)
			}
			return true
		},
	); err != nil {
		return keys, fmt.Errorf(
			"listing objects in bucket `%s` with prefix `%s`: %w",
			os.Bucket,
			prefix,
			err,
		)
	}
	return keys, nil
}

func (os *S3ObjectStore) DeleteObject(ctx context.Context, key string) error {
	if _, err := os.Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &os.Bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("deleting object `%s`: %w", key, err)
	}
	return nil
}
