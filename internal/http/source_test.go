package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/ligustah/fanout/internal/testutils"
	"github.com/ligustah/fanout/pkg/transfer"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryAttempts = 2
	opts.RetryBackoff = time.Millisecond
	opts.RetryMaxBackoff = 5 * time.Millisecond
	return opts
}

func newTestSource(t *testing.T, files ...testutils.TestFile) (*Source, *testutils.RangeServer) {
	t.Helper()
	server := testutils.StartTestHTTPServer(t, files)
	src, err := NewSource(server.URL+"/", NewClient(fastOptions()), SourceOptions{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	return src, server
}

func TestSourceMediaRef(t *testing.T) {
	data := testutils.GenerateTestData(t, 4096)
	src, _ := newTestSource(t, testutils.TestFile{Name: "clip.mp4", Data: data})

	ref, err := src.MediaRef(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("MediaRef: %v", err)
	}
	if ref.Size != 4096 {
		t.Errorf("expected size 4096, got %d", ref.Size)
	}
	if !ref.Streamable {
		t.Error("expected media to be streamable")
	}
	if ref.ETag != "clip.mp4" {
		t.Errorf("unexpected etag %q", ref.ETag)
	}
}

func TestSourceRangeRead(t *testing.T) {
	data := testutils.GenerateTestData(t, 4096)
	src, _ := newTestSource(t, testutils.TestFile{Name: "clip.mp4", Data: data})

	ref, err := src.MediaRef(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("MediaRef: %v", err)
	}

	rc, err := src.RangeRead(context.Background(), ref, 1000, 500)
	if err != nil {
		t.Fatalf("RangeRead: %v", err)
	}
	defer rc.Close()

	testutils.CompareReaderToData(t, rc, data[1000:1500])
}

func TestSourceErrorMapping(t *testing.T) {
	src, server := newTestSource(t, testutils.TestFile{Name: "a", Data: []byte("abc")})

	_, err := src.MediaRef(context.Background(), "missing")
	if !errors.Is(err, transfer.ErrNotFound) {
		t.Errorf("missing media: expected transfer.ErrNotFound, got %v", err)
	}

	server.FailWith("a", http.StatusUnauthorized)
	_, err = src.MediaRef(context.Background(), "a")
	if !transfer.IsConnectionError(err) {
		t.Errorf("401: expected ConnectionError, got %v", err)
	}

	server.FailWith("a", http.StatusForbidden)
	_, err = src.RangeRead(context.Background(), transfer.MediaRef{ID: "a", Size: 3}, 0, 3)
	if !transfer.IsConnectionError(err) {
		t.Errorf("403: expected ConnectionError, got %v", err)
	}

	server.FailWith("a", http.StatusBadGateway)
	_, err = src.RangeRead(context.Background(), transfer.MediaRef{ID: "a", Size: 3}, 0, 3)
	if !transfer.IsConnectionError(err) {
		t.Errorf("exhausted retries: expected ConnectionError, got %v", err)
	}
}

func TestSourceRateLimit(t *testing.T) {
	src, server := newTestSource(t, testutils.TestFile{Name: "a", Data: []byte("abcdef")})
	server.RateLimit(1, "3")

	_, err := src.RangeRead(context.Background(), transfer.MediaRef{ID: "a", Size: 6}, 0, 6)
	rl, ok := transfer.AsRateLimit(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.Wait != 3*time.Second {
		t.Errorf("expected wait 3s, got %v", rl.Wait)
	}

	rc, err := src.RangeRead(context.Background(), transfer.MediaRef{ID: "a", Size: 6}, 2, 3)
	if err != nil {
		t.Fatalf("RangeRead after rate limit: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "cde" {
		t.Errorf("expected cde, got %q", got)
	}
}

func TestSourceETagMismatch(t *testing.T) {
	src, _ := newTestSource(t, testutils.TestFile{Name: "a", Data: []byte("abcdef")})

	_, err := src.RangeRead(context.Background(), transfer.MediaRef{ID: "a", Size: 6, ETag: "older"}, 0, 6)
	if !errors.Is(err, ErrETagMismatch) {
		t.Errorf("expected ErrETagMismatch, got %v", err)
	}
}

func TestSourceBandwidthLimit(t *testing.T) {
	data := testutils.GenerateTestData(t, 64*1024)
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a", Data: data}})

	src, err := NewSource(server.URL, NewClient(fastOptions()), SourceOptions{BandwidthLimit: 1024 * 1024})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	rc, err := src.RangeRead(context.Background(), transfer.MediaRef{ID: "a", Size: int64(len(data))}, 0, int64(len(data)))
	if err != nil {
		t.Fatalf("RangeRead: %v", err)
	}
	defer rc.Close()

	if _, ok := rc.(*limitedReader); !ok {
		t.Fatalf("expected a paced reader, got %T", rc)
	}
	testutils.CompareReaderToData(t, rc, data)
}

func TestNewSourceRejectsScheme(t *testing.T) {
	if _, err := NewSource("ftp://example.com", NewClient(DefaultOptions()), SourceOptions{}); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestSourceURLEscapesID(t *testing.T) {
	src, err := NewSource("https://cdn.example.com/media/", NewClient(DefaultOptions()), SourceOptions{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if got := src.URL("a b/c"); got != "https://cdn.example.com/media/a%20b%2Fc" {
		t.Errorf("unexpected url %q", got)
	}
}

func TestSourcePing(t *testing.T) {
	src, server := newTestSource(t)
	ctx := context.Background()

	// The base URL has no object behind it; a 404 still proves the host answers.
	if err := src.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	server.FailWith("", http.StatusBadGateway)
	if err := src.Ping(ctx); !errors.Is(err, ErrServerError) {
		t.Errorf("expected server error, got %v", err)
	}

	server.FailWith("", http.StatusForbidden)
	if err := src.Ping(ctx); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}

	server.FailWith("", http.StatusMethodNotAllowed)
	if err := src.Ping(ctx); err != nil {
		t.Errorf("unexpected status should count as reachable, got %v", err)
	}
}
