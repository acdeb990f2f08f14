package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ReportArchiver stores a durable copy of every committed resolution.
type ReportArchiver interface {
	ArchiveResolution(ctx context.Context, result ResolutionResult) (string, error)
}
