package blobsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/fanout/pkg/transfer"
)

var _ transfer.Client = (*Source)(nil)

// ThrottleWait is the backoff reported when the store signals
// ResourceExhausted without saying for how long.
const ThrottleWait = time.Second

// Source serves media from a blob bucket. A media id names either a plain
// object or, when "<id>.manifest.json" exists, a sharded object.
type Source struct {
	bucket *blob.Bucket
	owned  bool

	mu        sync.Mutex
	manifests map[string]*Manifest
}

// Open opens the bucket at bucketURL (mem://, file://, s3://, gs://).
// The Source owns the bucket and closes it on Close.
func Open(ctx context.Context, bucketURL string) (*Source, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("blobsource: open bucket: %w", err)
	}
	s := New(bucket)
	s.owned = true
	return s, nil
}

// New wraps an open bucket. The caller keeps ownership of bucket.
func New(bucket *blob.Bucket) *Source {
	return &Source{bucket: bucket, manifests: make(map[string]*Manifest)}
}

// Close releases the bucket if the Source opened it.
func (s *Source) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}

// Ping reports whether the bucket can be reached.
func (s *Source) Ping(ctx context.Context) error {
	ok, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return mapError(err)
	}
	if !ok {
		return errors.New("blobsource: bucket is not accessible")
	}
	return nil
}

// MediaRef resolves mediaID, preferring a sharded manifest over a plain
// object of the same name.
func (s *Source) MediaRef(ctx context.Context, mediaID string) (transfer.MediaRef, error) {
	m, err := s.refreshManifest(ctx, mediaID)
	if err != nil {
		return transfer.MediaRef{}, err
	}
	if m != nil {
		return transfer.MediaRef{
			ID:         mediaID,
			Size:       m.TotalSize,
			Streamable: true,
			ETag:       m.CompletedAt.UTC().Format(time.RFC3339Nano),
		}, nil
	}

	attrs, err := s.bucket.Attributes(ctx, mediaID)
	if err != nil {
		return transfer.MediaRef{}, mapError(err)
	}
	return transfer.MediaRef{
		ID:         mediaID,
		Size:       attrs.Size,
		Streamable: true,
		ETag:       attrs.ETag,
	}, nil
}

// RangeRead returns a reader over [offset, offset+limit) of the media.
func (s *Source) RangeRead(ctx context.Context, ref transfer.MediaRef, offset, limit int64) (io.ReadCloser, error) {
	m, err := s.manifest(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	if m == nil {
		r, err := s.bucket.NewRangeReader(ctx, ref.ID, offset, limit, nil)
		if err != nil {
			return nil, mapError(err)
		}
		return &mappedReader{rc: r}, nil
	}

	if offset < 0 || offset > m.TotalSize {
		return nil, fmt.Errorf("blobsource: offset %d outside %s", offset, ref.ID)
	}
	return &shardChain{
		ctx:      ctx,
		bucket:   s.bucket,
		manifest: m,
		pos:      offset,
		end:      min(offset+limit, m.TotalSize),
	}, nil
}

// manifest returns the cached manifest of mediaID, loading it on first use.
// A nil manifest means the media is a plain object.
func (s *Source) manifest(ctx context.Context, mediaID string) (*Manifest, error) {
	s.mu.Lock()
	m, ok := s.manifests[mediaID]
	s.mu.Unlock()
	if ok {
		return m, nil
	}
	return s.refreshManifest(ctx, mediaID)
}

func (s *Source) refreshManifest(ctx context.Context, mediaID string) (*Manifest, error) {
	m, err := readManifest(ctx, s.bucket, mediaID)
	if err != nil {
		if gcerrors.Code(err) != gcerrors.NotFound {
			return nil, mapError(err)
		}
		m = nil
	}

	s.mu.Lock()
	s.manifests[mediaID] = m
	s.mu.Unlock()
	return m, nil
}

// shardChain reads a byte range that may span several shards, opening one
// shard range reader at a time.
type shardChain struct {
	ctx      context.Context
	bucket   *blob.Bucket
	manifest *Manifest

	pos int64
	end int64

	cur      io.ReadCloser
	curKey   string
	curLimit int64
}

func (c *shardChain) Read(p []byte) (int, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}
		if c.pos >= c.end {
			return 0, io.EOF
		}
		if c.cur == nil {
			if err := c.openNext(); err != nil {
				return 0, err
			}
		}

		n, err := c.cur.Read(p)
		c.pos += int64(n)
		if errors.Is(err, io.EOF) {
			c.cur.Close()
			c.cur = nil
			// A shard shorter than its manifest entry would be reopened at
			// the same offset forever.
			if c.pos < c.curLimit {
				return n, fmt.Errorf("blobsource: shard %s ends at byte %d of the media, manifest expects %d: %w",
					c.curKey, c.pos, c.curLimit, io.ErrUnexpectedEOF)
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, mapError(err)
		}
		return n, nil
	}
}

// openNext opens the shard containing pos, limited to the requested range.
func (c *shardChain) openNext() error {
	shards := c.manifest.Shards
	i := sort.Search(len(shards), func(i int) bool {
		return shards[i].Offset+shards[i].Size > c.pos
	})
	if i == len(shards) {
		return io.ErrUnexpectedEOF
	}

	shard := shards[i]
	within := c.pos - shard.Offset
	length := min(shard.Size-within, c.end-c.pos)
	key := c.manifest.PartsPrefix + shard.Object

	r, err := c.bucket.NewRangeReader(c.ctx, key, within, length, nil)
	if err != nil {
		return mapError(err)
	}
	c.cur = r
	c.curKey = key
	c.curLimit = c.pos + length
	return nil
}

func (c *shardChain) Close() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}

// mappedReader translates storage errors surfaced mid-read.
type mappedReader struct {
	rc io.ReadCloser
}

func (r *mappedReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = mapError(err)
	}
	return n, err
}

func (r *mappedReader) Close() error { return r.rc.Close() }

// mapError translates gocloud error codes into transfer errors.
func mapError(err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %w", transfer.ErrNotFound, err)
	case gcerrors.PermissionDenied:
		return &transfer.ConnectionError{Err: err}
	case gcerrors.ResourceExhausted:
		return &transfer.RateLimitError{Wait: ThrottleWait, Err: err}
	default:
		return err
	}
}
