package transfer

import (
	"context"
	"io"
)

// MediaRef describes a stored media object as resolved by a client.
type MediaRef struct {
	ID         string
	Size       int64
	Streamable bool
	ETag       string
}

// Client is a single connection to the remote host that owns the media.
// Implementations are owned by a Registry; the engine only reads through them.
//
// RangeRead returns a reader over at most limit bytes starting at offset.
// Both the call and subsequent Reads may fail with *RateLimitError,
// *ConnectionError, or an error wrapping ErrNotFound.
type Client interface {
	MediaRef(ctx context.Context, mediaID string) (MediaRef, error)
	RangeRead(ctx context.Context, ref MediaRef, offset, limit int64) (io.ReadCloser, error)
}

// Handle binds a Client to its registry id.
type Handle struct {
	ID     int
	Client Client
}

// Registry supplies the pool of currently available clients.
type Registry interface {
	Clients() []Handle
}

// FailureReporter is implemented by registries that track client health.
// The engine reports connection-fatal failures through it.
type FailureReporter interface {
	ReportFailure(clientID int, err error)
}

// Observer receives per-chunk progress notifications.
// internal/progress.Reporter satisfies it.
type Observer interface {
	ChunkStarted()
	ChunkCompleted(size int64)
	ChunkFailed()
}

type nopObserver struct{}

func (nopObserver) ChunkStarted()        {}
func (nopObserver) ChunkCompleted(int64) {}
func (nopObserver) ChunkFailed()         {}
