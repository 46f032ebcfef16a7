// Package http provides the HTTP media source used by fanout.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - HEAD requests to get file metadata
//   - Range requests with retry and exponential backoff
//   - 429 and 503 Retry-After responses surfaced as rate limits
//   - Optional bandwidth caps per source
//
// Source adapts a base URL to transfer.Client, so several mirrors of the
// same media can serve one transfer session.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//	src, err := http.NewSource("https://mirror-a.example.com/media", client,
//	    http.SourceOptions{BandwidthLimit: 50 << 20})
//
//	ref, err := src.MediaRef(ctx, "episode-12.mkv")
//	rc, err := src.RangeRead(ctx, ref, 0, 1<<20)
//	defer rc.Close()
package http
