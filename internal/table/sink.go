package table

import (
	"bytes"
	"context"
	"fmt"

	"github.com/JakeFAU/robots-history/internal/pipeline"
)

// DefaultContentType is used for CSV objects when none is configured.
const DefaultContentType = "text/csv; charset=utf-8"

// BlobSink writes a run's records as one CSV object.
type BlobSink struct {
	store       pipeline.BlobStore
	path        string
	contentType string
}

// NewBlobSink returns a sink that writes to path within store.
func NewBlobSink(store pipeline.BlobStore, path, contentType string) *BlobSink {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &BlobSink{store: store, path: path, contentType: contentType}
}

// Name implements pipeline.RecordSink.
func (s *BlobSink) Name() string { return "csv" }

// Write implements pipeline.RecordSink.
func (s *BlobSink) Write(ctx context.Context, run pipeline.Run) (string, error) {
	var buf bytes.Buffer
	if err := WriteRecords(&buf, run.Records); err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	uri, err := s.store.PutObject(ctx, s.path, s.contentType, &buf)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", s.path, err)
	}
	return uri, nil
}
