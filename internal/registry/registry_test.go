package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	fhttp "github.com/ligustah/fanout/internal/http"
	"github.com/ligustah/fanout/internal/testutils"
	"github.com/ligustah/fanout/pkg/transfer"
)

type stubClient struct{}

func (stubClient) MediaRef(context.Context, string) (transfer.MediaRef, error) {
	return transfer.MediaRef{}, nil
}

func (stubClient) RangeRead(context.Context, transfer.MediaRef, int64, int64) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestIDsFollowRegistrationOrder(t *testing.T) {
	r := New(Options{})
	for i, name := range []string{"a", "b", "c"} {
		if id := r.Add(name, stubClient{}, nil); id != i {
			t.Errorf("Add(%s) = %d, want %d", name, id, i)
		}
	}

	handles := r.Clients()
	if len(handles) != 3 {
		t.Fatalf("expected 3 clients, got %d", len(handles))
	}
	for i, h := range handles {
		if h.ID != i {
			t.Errorf("handle %d has id %d", i, h.ID)
		}
	}
}

func TestReportFailureAndEnable(t *testing.T) {
	r := New(Options{})
	r.Add("a", stubClient{}, nil)
	r.Add("b", stubClient{}, nil)

	for i := 1; i < DefaultMaxFailures; i++ {
		r.ReportFailure(0, &transfer.ConnectionError{Err: errors.New("timeout")})
		if n := len(r.Clients()); n != 2 {
			t.Fatalf("client disabled after %d failures", i)
		}
	}
	r.ReportFailure(0, &transfer.ConnectionError{Err: errors.New("auth revoked")})

	handles := r.Clients()
	if len(handles) != 1 || handles[0].ID != 1 {
		t.Fatalf("expected only client 1 available, got %+v", handles)
	}

	st := r.Status()
	if st[0].Available || st[0].Failures != DefaultMaxFailures ||
		!strings.Contains(st[0].LastError, "auth revoked") || st[0].FailedAt.IsZero() {
		t.Errorf("unexpected status for client 0: %+v", st[0])
	}
	if !st[1].Available {
		t.Error("client 1 should be available")
	}

	if err := r.Enable(0); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if n := len(r.Clients()); n != 2 {
		t.Errorf("expected 2 clients after Enable, got %d", n)
	}
	if f := r.Status()[0].Failures; f != 0 {
		t.Errorf("expected failures reset by Enable, got %d", f)
	}

	if err := r.Enable(7); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("expected ErrUnknownClient, got %v", err)
	}
	r.ReportFailure(7, errors.New("ignored"))
}

// pingClient is a stubClient whose Ping result can be switched.
type pingClient struct {
	stubClient
	down  atomic.Bool
	pings atomic.Int32
}

func (c *pingClient) Ping(context.Context) error {
	c.pings.Add(1)
	if c.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestHealthCheckRestoresClient(t *testing.T) {
	ctx := context.Background()
	r := New(Options{MaxFailures: 2})
	healthy := &pingClient{}
	flaky := &pingClient{}
	flaky.down.Store(true)
	r.Add("healthy", healthy, nil)
	r.Add("flaky", flaky, nil)
	r.Add("plain", stubClient{}, nil)

	for id := range 3 {
		r.ReportFailure(id, errors.New("boom"))
		r.ReportFailure(id, errors.New("boom"))
	}
	if n := len(r.Clients()); n != 0 {
		t.Fatalf("expected every client disabled, got %d", n)
	}

	if got := r.HealthCheck(ctx); got != 2 {
		t.Errorf("HealthCheck restored %d clients, want 2", got)
	}
	st := r.Status()
	if !st[0].Available || st[0].Failures != 0 {
		t.Errorf("healthy client not restored: %+v", st[0])
	}
	if st[1].Available || !strings.Contains(st[1].LastError, "connection refused") {
		t.Errorf("flaky client restored while down: %+v", st[1])
	}
	if !st[2].Available {
		t.Error("client without Ping should be restored")
	}

	flaky.down.Store(false)
	if got := r.HealthCheck(ctx); got != 1 {
		t.Errorf("second HealthCheck restored %d clients, want 1", got)
	}
	if n := len(r.Clients()); n != 3 {
		t.Errorf("expected 3 clients after recovery, got %d", n)
	}

	// Nothing is suspect any more, so nothing is pinged.
	before := healthy.pings.Load() + flaky.pings.Load()
	r.HealthCheck(ctx)
	if after := healthy.pings.Load() + flaky.pings.Load(); after != before {
		t.Errorf("healthy clients were pinged: %d -> %d", before, after)
	}
}

func TestHealthCheckFailureCountsTowardsThreshold(t *testing.T) {
	r := New(Options{MaxFailures: 2})
	c := &pingClient{}
	c.down.Store(true)
	r.Add("a", c, nil)

	r.ReportFailure(0, errors.New("boom"))
	r.HealthCheck(context.Background())
	if st := r.Status()[0]; st.Available || st.Failures != 2 {
		t.Errorf("expected failed ping to disable the client, got %+v", st)
	}
}

func TestWatchRestoresClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(Options{MaxFailures: 1})
	r.Add("a", &pingClient{}, nil)
	r.ReportFailure(0, errors.New("boom"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Watch(ctx, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(r.Clients()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not restored by Watch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestCloseCombinesErrors(t *testing.T) {
	r := New(Options{})
	closed := 0
	r.Add("a", stubClient{}, closerFunc(func() error { closed++; return errors.New("first") }))
	r.Add("b", stubClient{}, nil)
	r.Add("c", stubClient{}, closerFunc(func() error { closed++; return errors.New("second") }))

	err := r.Close()
	if closed != 2 {
		t.Errorf("expected 2 closers called, got %d", closed)
	}
	if err == nil || !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Errorf("expected combined error, got %v", err)
	}
}

func TestBuildMixedSchemes(t *testing.T) {
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "m", Data: []byte("hello")}})
	dir := t.TempDir()

	r, err := Build(context.Background(), []string{server.URL, "mem://", "file://" + dir}, Options{
		HTTP: fhttp.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer r.Close()

	if r.Len() != 3 {
		t.Fatalf("expected 3 clients, got %d", r.Len())
	}
	if _, ok := r.Clients()[0].Client.(*fhttp.Source); !ok {
		t.Errorf("client 0 is %T, want *http.Source", r.Clients()[0].Client)
	}
}

func TestBuildInvalidURL(t *testing.T) {
	_, err := Build(context.Background(), []string{"mem://", "nosuchscheme://x"}, Options{})
	if err == nil {
		t.Error("expected error for unknown scheme")
	}
}

// Two HTTP mirrors and a failing one: the engine disables the failing
// mirror and later sessions only use the healthy ones.
func TestEngineDisablesFailingMirror(t *testing.T) {
	data := testutils.GenerateTestData(t, 256*1024)
	files := []testutils.TestFile{{Name: "clip", Data: data}}

	good1 := testutils.StartTestHTTPServer(t, files)
	good2 := testutils.StartTestHTTPServer(t, files)
	bad := testutils.StartTestHTTPServer(t, files)
	bad.FailWith("clip", 403)

	httpOpts := fhttp.DefaultOptions()
	httpOpts.RetryBackoff = time.Millisecond
	httpOpts.RetryMaxBackoff = time.Millisecond

	r, err := Build(context.Background(), []string{good1.URL, good2.URL, bad.URL}, Options{
		HTTP:        httpOpts,
		MaxFailures: 1,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer r.Close()

	engine := transfer.New(r, transfer.WithUnitSize(16*1024), transfer.WithTempDir(t.TempDir()))

	dest := filepath.Join(t.TempDir(), "clip")
	err = engine.DownloadToFile(context.Background(), "clip", dest)
	if !transfer.IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if st := r.Status(); st[2].Available {
		t.Fatal("failing mirror still available")
	}

	if err := engine.DownloadToFile(context.Background(), "clip", dest); err != nil {
		t.Fatalf("second DownloadToFile: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded file mismatch")
	}
}

// A mirror that went down is brought back once its host answers again.
func TestHealthCheckRestoresMirror(t *testing.T) {
	server := testutils.StartTestHTTPServer(t, nil)
	httpOpts := fhttp.DefaultOptions()
	httpOpts.RetryAttempts = 1
	httpOpts.RetryBackoff = time.Millisecond
	httpOpts.RetryMaxBackoff = time.Millisecond

	r, err := Build(context.Background(), []string{server.URL}, Options{HTTP: httpOpts, MaxFailures: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer r.Close()

	r.ReportFailure(0, &transfer.ConnectionError{Err: errors.New("server error")})
	server.FailWith("", 502)
	if got := r.HealthCheck(context.Background()); got != 0 || len(r.Clients()) != 0 {
		t.Fatalf("mirror restored while failing (restored %d)", got)
	}

	server.FailWith("", 0)
	if got := r.HealthCheck(context.Background()); got != 1 {
		t.Fatalf("HealthCheck restored %d clients, want 1", got)
	}
	if n := len(r.Clients()); n != 1 {
		t.Errorf("expected mirror available, got %d clients", n)
	}
}
