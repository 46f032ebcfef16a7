// Package testutils provides shared test infrastructure.
//
// The HTTP helpers are available to every test. MinIO helpers live behind
// the integration build tag.
package testutils

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// TestFile defines a test file with size and data.
type TestFile struct {
	Name string
	Size int64
	Data []byte
}

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t testing.TB, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 256)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// RangeServer is an httptest server that serves files with range support
// and can inject failures.
type RangeServer struct {
	*httptest.Server

	mu         sync.Mutex
	files      map[string][]byte
	status     map[string]int
	rateLimits atomic.Int32
	retryAfter string

	Requests atomic.Int32
}

// StartTestHTTPServer starts an HTTP server that serves test files with range request support.
func StartTestHTTPServer(t testing.TB, files []TestFile) *RangeServer {
	t.Helper()

	s := &RangeServer{
		files:  make(map[string][]byte),
		status: make(map[string]int),
	}
	for _, f := range files {
		s.files["/"+f.Name] = f.Data
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FailWith makes every request for name answer with code.
func (s *RangeServer) FailWith(name string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status["/"+name] = code
}

// RateLimit makes the next n requests answer 429 with the given
// Retry-After header value.
func (s *RangeServer) RateLimit(n int, retryAfter string) {
	s.mu.Lock()
	s.retryAfter = retryAfter
	s.mu.Unlock()
	s.rateLimits.Store(int32(n))
}

func (s *RangeServer) serve(w http.ResponseWriter, r *http.Request) {
	s.Requests.Add(1)

	s.mu.Lock()
	data, ok := s.files[r.URL.Path]
	code := s.status[r.URL.Path]
	retryAfter := s.retryAfter
	s.mu.Unlock()

	if s.rateLimits.Add(-1) >= 0 {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if code != 0 {
		w.WriteHeader(code)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	size := int64(len(data))
	etag := fmt.Sprintf(`"%s"`, strings.TrimPrefix(r.URL.Path, "/"))

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", etag)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("ETag", etag)
		w.Write(data)
		return
	}

	// Parse range header: bytes=start-end
	rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.Split(rangeHeader, "-")
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)

	if start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

// CompareReaderToData compares reader output with expected data in chunks.
// This is memory-efficient for large files.
func CompareReaderToData(t testing.TB, reader io.Reader, expected []byte) {
	t.Helper()

	chunkSize := 1024 * 1024 // 1MB
	buf := make([]byte, chunkSize)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
