// Package storage holds the object stores inputs and results are published to.
package storage

import (
	"context"
	"fmt"
	"io"
)

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.ReadSeeker, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

type ObjectNotFoundErr struct {
	Bucket string
	Key    string
}

func (err *ObjectNotFoundErr) Error() string {
	return fmt.Sprintf("object not found: bucket `%s`, key `%s`", err.Bucket, err.Key)
}
