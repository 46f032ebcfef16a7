package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func newTestFetcher(b *LoadBalancer, sleeper *noSleep, readUnit int64) *Fetcher {
	opts := Options{Balancer: b, ReadUnit: readUnit, Sleep: sleeper.sleep}
	opts.applyDefaults()
	return newFetcher(opts, zap.NewNop())
}

func TestFetchTrimsOvershoot(t *testing.T) {
	data := testData(10000)
	client := newFakeClient(data)
	client.overshoot = 333

	b := NewLoadBalancer()
	f := newTestFetcher(b, &noSleep{}, 1000)

	d := ChunkDescriptor{Index: 2, Start: 1234, End: 5678, ClientID: 1, Client: client}
	res := f.Fetch(context.Background(), MediaRef{Size: int64(len(data))}, d)
	if res.Err != nil {
		t.Fatalf("Fetch: %v", res.Err)
	}
	if res.Index != 2 {
		t.Errorf("expected index 2, got %d", res.Index)
	}
	if !bytes.Equal(res.Payload, data[1234:5679]) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(res.Payload), d.Size())
	}
	assertBaseline(t, b)
}

func TestFetchRateLimitKeepsBytes(t *testing.T) {
	data := testData(4096)
	client := newFakeClient(data)
	client.rateLimits.Store(2)
	client.midReadRateLimits.Store(3)

	sleeper := &noSleep{}
	b := NewLoadBalancer()
	f := newTestFetcher(b, sleeper, 512)

	d := ChunkDescriptor{Index: 0, Start: 0, End: 4095, ClientID: 0, Client: client}
	res := f.Fetch(context.Background(), MediaRef{Size: 4096}, d)
	if res.Err != nil {
		t.Fatalf("Fetch: %v", res.Err)
	}
	if !bytes.Equal(res.Payload, data) {
		t.Fatal("payload mismatch after rate-limit retries")
	}
	if got := sleeper.calls.Load(); got != 5 {
		t.Errorf("expected 5 backoff sleeps, got %d", got)
	}
	assertBaseline(t, b)
}

func TestFetchConnectionErrorNotRetried(t *testing.T) {
	client := newFakeClient(testData(100))
	client.fail = &ConnectionError{Err: errors.New("auth key revoked")}

	b := NewLoadBalancer()
	f := newTestFetcher(b, &noSleep{}, 10)

	d := ChunkDescriptor{Index: 4, Start: 0, End: 99, ClientID: 3, Client: client}
	res := f.Fetch(context.Background(), MediaRef{Size: 100}, d)

	var ce *ConnectionError
	if !errors.As(res.Err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", res.Err)
	}
	var chunkErr *ChunkError
	if !errors.As(res.Err, &chunkErr) || chunkErr.Index != 4 {
		t.Errorf("expected ChunkError for index 4, got %v", res.Err)
	}
	if got := client.reads.Load(); got != 1 {
		t.Errorf("expected 1 read, got %d", got)
	}
	if got := b.Load(3); got != 0 {
		t.Errorf("expected load 0 after failure, got %d", got)
	}
}

func TestFetchNotFound(t *testing.T) {
	client := newFakeClient(testData(100))
	client.fail = ErrNotFound

	f := newTestFetcher(NewLoadBalancer(), &noSleep{}, 10)
	res := f.Fetch(context.Background(), MediaRef{Size: 100},
		ChunkDescriptor{Index: 1, Start: 0, End: 99, Client: client})
	if !errors.Is(res.Err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", res.Err)
	}
}

func TestFetchShortReadFails(t *testing.T) {
	client := newFakeClient(testData(100))

	f := newTestFetcher(NewLoadBalancer(), &noSleep{}, 64)
	// The object ends at 99; asking for more must not loop forever.
	res := f.Fetch(context.Background(), MediaRef{Size: 200},
		ChunkDescriptor{Index: 0, Start: 0, End: 199, Client: client})
	if res.Err == nil {
		t.Fatal("expected error for short object")
	}
}

func TestFetchCancelledReleasesLoad(t *testing.T) {
	client := newFakeClient(testData(100))
	client.block = true

	b := NewLoadBalancer()
	f := newTestFetcher(b, &noSleep{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.Fetch(ctx, MediaRef{Size: 100}, ChunkDescriptor{Index: 0, Start: 0, End: 99, ClientID: 5, Client: client})
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Err)
	}
	if got := b.Load(5); got != 0 {
		t.Errorf("expected load 0, got %d", got)
	}
}
