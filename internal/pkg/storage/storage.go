package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// ObjectInfo holds metadata about a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStorage abstracts the blob store holding generated assets and
// user uploads.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetURL(key string) string
	GetInfo(ctx context.Context, key string) (*ObjectInfo, error)
	PresignPut(ctx context.Context, key string, contentType string, expires time.Duration) (string, error)
}
