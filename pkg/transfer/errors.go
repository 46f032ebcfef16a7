package transfer

import (
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrNoClients is returned when the registry has no available client.
	ErrNoClients = errors.New("transfer: no clients available")

	// ErrNotFound is returned (wrapped) when the requested media does not exist.
	ErrNotFound = errors.New("transfer: media not found")

	// ErrInvalidRange is returned when the requested offset lies beyond the media.
	ErrInvalidRange = errors.New("transfer: invalid range")
)

// RateLimitError signals that the remote host asked the client to back off.
// Fetches sleep for Wait and retry the same read.
type RateLimitError struct {
	Wait time.Duration
	Err  error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited for %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("rate limited for %s", e.Wait)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ConnectionError is an authentication or connection-fatal failure.
// It is never retried and aborts the whole session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IntegrityError is returned when an assembled file does not have the
// expected size. The file at Path is left in place.
type IntegrityError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %d bytes, got %d", e.Path, e.Expected, e.Actual)
}

// ChunkError tags a fetch failure with the chunk it belongs to.
type ChunkError struct {
	Index    int
	ClientID int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (client %d): %v", e.Index, e.ClientID, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// AsRateLimit extracts a *RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
