package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, r io.Reader, contentType string) error
}
