package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is what GetObject and DeleteObject expect later. For local
	// storage it echoes the input key; Drive returns its file id.
	ObjectKey string
	Size      int64
}

// StorageProvider stores render outputs.
type StorageProvider interface {
	Provider() string
	// Remote reports whether objects leave the local disk, which makes the
	// local copy safe to remove after upload.
	Remote() bool

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}
