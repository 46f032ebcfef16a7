package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ligustah/fanout/pkg/transfer"
)

var _ transfer.Client = (*Source)(nil)

// ErrETagMismatch is returned when a range response belongs to a different
// version of the object than the one resolved by MediaRef.
var ErrETagMismatch = errors.New("http: object changed during transfer")

// limiterBurst bounds a single limiter wait. Reads are split to fit it.
const limiterBurst = 16 * 1024

// Source serves media stored under a base URL. The media id is appended to
// the base as a path segment.
type Source struct {
	client  *Client
	base    string
	limiter *rate.Limiter
}

// SourceOptions configures a Source.
type SourceOptions struct {
	// BandwidthLimit caps the bytes per second read through the source.
	// Zero disables the cap.
	BandwidthLimit int64
}

// NewSource creates a Source for base using client for requests.
func NewSource(base string, client *Client, opts SourceOptions) (*Source, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source url %q: unsupported scheme %q", base, u.Scheme)
	}

	s := &Source{client: client, base: strings.TrimSuffix(base, "/")}
	if opts.BandwidthLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.BandwidthLimit), int(max(opts.BandwidthLimit, limiterBurst)))
	}
	return s, nil
}

// URL returns the URL of mediaID.
func (s *Source) URL(mediaID string) string {
	return s.base + "/" + url.PathEscape(mediaID)
}

// MediaRef resolves mediaID with a HEAD request.
func (s *Source) MediaRef(ctx context.Context, mediaID string) (transfer.MediaRef, error) {
	info, err := s.client.Head(ctx, s.URL(mediaID))
	if err != nil {
		return transfer.MediaRef{}, mapError(err)
	}
	if info.Size < 0 {
		return transfer.MediaRef{}, fmt.Errorf("media %s: server did not report a size", mediaID)
	}
	return transfer.MediaRef{
		ID:         mediaID,
		Size:       info.Size,
		Streamable: info.AcceptsRanges,
		ETag:       info.ETag,
	}, nil
}

// RangeRead requests [offset, offset+limit) of the media.
func (s *Source) RangeRead(ctx context.Context, ref transfer.MediaRef, offset, limit int64) (io.ReadCloser, error) {
	if limit <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}

	resp, err := s.client.GetRange(ctx, s.URL(ref.ID), offset, offset+limit-1)
	if err != nil {
		return nil, mapError(err)
	}
	if ref.ETag != "" && resp.ETag != "" && ref.ETag != resp.ETag {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: etag %s, expected %s", ErrETagMismatch, resp.ETag, ref.ETag)
	}

	if s.limiter == nil {
		return resp.Body, nil
	}
	return &limitedReader{ctx: ctx, rc: resp.Body, limiter: s.limiter}, nil
}

// Ping sends a HEAD request to the base URL. Any answer other than a server
// error, an auth failure, or no answer at all counts as healthy.
func (s *Source) Ping(ctx context.Context) error {
	_, err := s.client.Head(ctx, s.base+"/")
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrUnexpectedStatus):
		return nil
	default:
		return err
	}
}

// mapError translates client errors into transfer errors.
func mapError(err error) error {
	var rl *RateLimitedError
	switch {
	case errors.As(err, &rl):
		return &transfer.RateLimitError{Wait: rl.RetryAfter, Err: err}
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", transfer.ErrNotFound, err)
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return &transfer.ConnectionError{Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrRangeNotSupported):
		return err
	default:
		// Retries are exhausted; the host is unreachable or failing.
		return &transfer.ConnectionError{Err: err}
	}
}

// limitedReader paces reads through a shared limiter.
type limitedReader struct {
	ctx     context.Context
	rc      io.ReadCloser
	limiter *rate.Limiter
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if len(p) > limiterBurst {
		p = p[:limiterBurst]
	}
	n, err := r.rc.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (r *limitedReader) Close() error {
	return r.rc.Close()
}
