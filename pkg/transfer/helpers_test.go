package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testMediaID = "media-1"

// fakeClient serves a byte slice and can inject the failures a real host
// produces.
type fakeClient struct {
	data []byte

	// delay is applied to every RangeRead.
	delay time.Duration

	// overshoot is the number of extra bytes returned past the requested limit.
	overshoot int64

	// rateLimits is the number of RangeRead calls that fail with a rate limit.
	rateLimits atomic.Int32

	// midReadRateLimits is the number of reads that return half their bytes
	// and then fail with a rate limit.
	midReadRateLimits atomic.Int32

	// fail is returned by RangeRead when set, after the first
	// failAfterReads calls have succeeded.
	fail           error
	failAfterReads int32

	// block makes RangeRead wait for context cancellation.
	block bool

	reads atomic.Int32
	refs  atomic.Int32
}

func newFakeClient(data []byte) *fakeClient {
	return &fakeClient{data: data}
}

func (f *fakeClient) MediaRef(ctx context.Context, mediaID string) (MediaRef, error) {
	f.refs.Add(1)
	if mediaID != testMediaID {
		return MediaRef{}, fmt.Errorf("%w: %s", ErrNotFound, mediaID)
	}
	return MediaRef{ID: mediaID, Size: int64(len(f.data)), Streamable: true}, nil
}

func (f *fakeClient) RangeRead(ctx context.Context, ref MediaRef, offset, limit int64) (io.ReadCloser, error) {
	n := f.reads.Add(1)

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil && n > f.failAfterReads {
		return nil, f.fail
	}
	if f.rateLimits.Add(-1) >= 0 {
		return nil, &RateLimitError{Wait: time.Millisecond}
	}

	end := min(offset+limit+f.overshoot, int64(len(f.data)))
	chunk := f.data[offset:end]

	if f.midReadRateLimits.Add(-1) >= 0 && len(chunk) > 1 {
		half := chunk[:len(chunk)/2]
		return io.NopCloser(io.MultiReader(
			bytes.NewReader(half),
			errReader{err: &RateLimitError{Wait: time.Millisecond}},
		)), nil
	}
	return io.NopCloser(bytes.NewReader(chunk)), nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// testRegistry is a fixed client list that records reported failures.
type testRegistry struct {
	handles []Handle

	mu       sync.Mutex
	failures map[int]error
}

func newTestRegistry(clients ...Client) *testRegistry {
	r := &testRegistry{failures: make(map[int]error)}
	for i, c := range clients {
		r.handles = append(r.handles, Handle{ID: i, Client: c})
	}
	return r
}

func (r *testRegistry) Clients() []Handle {
	return r.handles
}

func (r *testRegistry) ReportFailure(id int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = err
}

func (r *testRegistry) failure(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[id]
}

// testData returns size bytes of a repeating pattern.
func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// noSleep counts rate-limit waits without sleeping.
type noSleep struct {
	calls atomic.Int32
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.calls.Add(1)
	return ctx.Err()
}

// assertLoads checks the counters of the given clients against want.
func assertLoads(t testing.TB, b *LoadBalancer, want map[int]int64) {
	t.Helper()
	for id, load := range want {
		if got := b.Load(id); got != load {
			t.Errorf("client %d: load %d, want %d", id, got, load)
		}
	}
}

func assertBaseline(t testing.TB, b *LoadBalancer) {
	t.Helper()
	for id, load := range b.Snapshot() {
		if load != 0 {
			t.Errorf("client %d: load %d after session, want 0", id, load)
		}
	}
}
