package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// maxReadBuffer bounds the scratch buffer used while draining a range read.
const maxReadBuffer = 256 * 1024

// FetchResult is the outcome of fetching one chunk.
type FetchResult struct {
	Index   int
	Payload []byte
	Err     error
}

// Fetcher downloads chunks from their assigned clients.
type Fetcher struct {
	balancer *LoadBalancer
	readUnit int64
	sleep    func(ctx context.Context, d time.Duration) error
	observer Observer
	logger   *zap.Logger
}

func newFetcher(opts Options, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		balancer: opts.Balancer,
		readUnit: opts.ReadUnit,
		sleep:    opts.Sleep,
		observer: opts.Observer,
		logger:   logger,
	}
}

// Fetch downloads the chunk into memory.
func (f *Fetcher) Fetch(ctx context.Context, ref MediaRef, d ChunkDescriptor) FetchResult {
	var buf bytes.Buffer
	if d.Size() > 0 {
		buf.Grow(int(d.Size()))
	}
	if _, err := f.FetchTo(ctx, ref, d, &buf); err != nil {
		return FetchResult{Index: d.Index, Err: err}
	}
	return FetchResult{Index: d.Index, Payload: buf.Bytes()}
}

// FetchTo downloads the chunk into w and returns the number of bytes written.
// The client's load counter is held for the duration of the call. Errors
// are returned as *ChunkError.
func (f *Fetcher) FetchTo(ctx context.Context, ref MediaRef, d ChunkDescriptor, w io.Writer) (int64, error) {
	f.balancer.Increment(d.ClientID)
	defer f.balancer.Decrement(d.ClientID)

	f.observer.ChunkStarted()
	n, err := f.copyRange(ctx, d.Client, ref, d.Start, d.End, w,
		zap.Int("chunk", d.Index), zap.Int("client", d.ClientID))
	if err != nil {
		f.observer.ChunkFailed()
		if !errors.Is(err, context.Canceled) {
			f.logger.Error("chunk fetch failed",
				zap.Int("chunk", d.Index),
				zap.Int("client", d.ClientID),
				zap.Int64("written", n),
				zap.Error(err),
			)
		}
		return n, &ChunkError{Index: d.Index, ClientID: d.ClientID, Err: err}
	}
	f.observer.ChunkCompleted(n)
	return n, nil
}

// copyRange reads [start, end] from client into w, one read unit at a time.
// Rate limits are slept off and the read is retried from the current cursor,
// so bytes already written are kept. Any other error is returned as is.
func (f *Fetcher) copyRange(ctx context.Context, client Client, ref MediaRef, start, end int64, w io.Writer, fields ...zap.Field) (int64, error) {
	var written int64
	cursor := start

	for cursor <= end {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		limit := min(f.readUnit, end-cursor+1)
		n, err := f.readOnce(ctx, client, ref, cursor, limit, end, w)
		cursor += n
		written += n

		if err == nil {
			if n == 0 {
				return written, io.ErrUnexpectedEOF
			}
			continue
		}

		if rl, ok := AsRateLimit(err); ok {
			f.logger.Warn("rate limited, backing off",
				append(fields, zap.Duration("wait", rl.Wait), zap.Int64("offset", cursor))...)
			if err := f.sleep(ctx, rl.Wait); err != nil {
				return written, err
			}
			continue
		}

		return written, err
	}

	return written, nil
}

// readOnce issues one range read at cursor and writes what it returns to w,
// trimming anything past end.
func (f *Fetcher) readOnce(ctx context.Context, client Client, ref MediaRef, cursor, limit, end int64, w io.Writer) (int64, error) {
	rc, err := client.RangeRead(ctx, ref, cursor, limit)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	buf := make([]byte, min(limit, maxReadBuffer))
	var got int64
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			keep := min(int64(n), end-(cursor+got)+1)
			if _, err := w.Write(buf[:keep]); err != nil {
				return got, err
			}
			got += keep
			if cursor+got > end {
				return got, nil
			}
		}
		if readErr == io.EOF {
			return got, nil
		}
		if readErr != nil {
			return got, readErr
		}
	}
}
