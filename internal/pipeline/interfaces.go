package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/robots-history/internal/archive"
)

// SnapshotIndex resolves a domain and window to capture timestamps.
type SnapshotIndex interface {
	ListSnapshots(ctx context.Context, domain string, window archive.Window) []archive.Timestamp
}

// SnapshotSource fetches the text of one capture.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, domain string, ts archive.Timestamp) archive.Content
}

// DomainRunner processes one domain end to end.
type DomainRunner interface {
	Run(ctx context.Context, domain string, window archive.Window) DomainResult
}

// RecordSink persists the flattened record set of a run and returns a URI
// describing where it went.
type RecordSink interface {
	Name() string
	Write(ctx context.Context, run Run) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests. Sinks call it once per record, so
// implementations may remember digests of repeated bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
