package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ligustah/fanout/internal/blobsource"
	fhttp "github.com/ligustah/fanout/internal/http"
	"github.com/ligustah/fanout/pkg/transfer"
)

var (
	_ transfer.Registry        = (*Registry)(nil)
	_ transfer.FailureReporter = (*Registry)(nil)
)

// ErrUnknownClient is returned for ids the registry never assigned.
var ErrUnknownClient = errors.New("registry: unknown client")

// DefaultMaxFailures is the number of consecutive connection failures after
// which a client is taken out of rotation.
const DefaultMaxFailures = 3

// Pinger is implemented by clients that can check their backend without
// naming a media object.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures Build.
type Options struct {
	// HTTP is used for every http and https source.
	HTTP fhttp.Options

	// BandwidthLimit caps bytes per second per HTTP source. Zero is unlimited.
	BandwidthLimit int64

	// MaxFailures is the number of connection failures that disable a
	// client (default 3).
	MaxFailures int

	Logger *zap.Logger
}

// Status is a point-in-time view of one client.
type Status struct {
	ID        int       `json:"id"`
	URL       string    `json:"url"`
	Available bool      `json:"available"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	FailedAt  time.Time `json:"failed_at,omitzero"`
}

type entry struct {
	id        int
	url       string
	client    transfer.Client
	closer    io.Closer
	available bool
	failures  int
	lastErr   error
	failedAt  time.Time
}

// Registry is a fixed set of clients with health tracking. Ids are
// assigned in registration order starting at 0.
type Registry struct {
	logger      *zap.Logger
	maxFailures int

	mu      sync.RWMutex
	entries []*entry
}

// New returns an empty registry. Only Logger and MaxFailures are read
// from opts.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &Registry{logger: opts.Logger, maxFailures: opts.MaxFailures}
}

// Build creates one client per URL. http and https URLs become HTTP
// sources with their own connection pool; any other scheme is opened as a
// blob bucket.
func Build(ctx context.Context, urls []string, opts Options) (*Registry, error) {
	r := New(opts)

	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("registry: parse %q: %w", raw, err), r.Close())
		}

		switch u.Scheme {
		case "http", "https":
			src, err := fhttp.NewSource(raw, fhttp.NewClient(opts.HTTP), fhttp.SourceOptions{
				BandwidthLimit: opts.BandwidthLimit,
			})
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("registry: %w", err), r.Close())
			}
			r.Add(raw, src, nil)
		default:
			src, err := blobsource.Open(ctx, raw)
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("registry: %s: %w", raw, err), r.Close())
			}
			r.Add(raw, src, src)
		}
	}

	r.logger.Info("client registry ready", zap.Int("clients", len(urls)))
	return r, nil
}

// Add registers client under name and returns its id. closer, if not nil,
// is closed by Close.
func (r *Registry) Add(name string, client transfer.Client, closer io.Closer) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := len(r.entries)
	r.entries = append(r.entries, &entry{
		id:        id,
		url:       name,
		client:    client,
		closer:    closer,
		available: true,
	})
	return id
}

// Clients returns the available clients in id order.
func (r *Registry) Clients() []transfer.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]transfer.Handle, 0, len(r.entries))
	for _, e := range r.entries {
		if e.available {
			handles = append(handles, transfer.Handle{ID: e.id, Client: e.client})
		}
	}
	return handles
}

// ReportFailure records a connection failure. The client is taken out of
// rotation once MaxFailures failures accumulate, until Enable or a
// successful HealthCheck brings it back.
func (r *Registry) ReportFailure(id int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.entries) {
		return
	}
	r.recordFailure(r.entries[id], err)
}

// recordFailure must be called with r.mu held.
func (r *Registry) recordFailure(e *entry, err error) {
	e.failures++
	e.lastErr = err
	e.failedAt = time.Now()
	if e.available && e.failures >= r.maxFailures {
		r.logger.Warn("client disabled",
			zap.Int("client", e.id),
			zap.String("url", e.url),
			zap.Int("failures", e.failures),
			zap.Error(err))
		e.available = false
	}
}

// Enable makes a disabled client available again.
func (r *Registry) Enable(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.entries) {
		return fmt.Errorf("%w: %d", ErrUnknownClient, id)
	}
	e := r.entries[id]
	if !e.available {
		r.logger.Info("client enabled", zap.Int("client", id), zap.String("url", e.url))
	}
	e.available = true
	e.failures = 0
	return nil
}

// HealthCheck pings every client that is disabled or has recorded
// failures. A client that answers its Ping is put back into rotation with a
// clean failure count; one that fails counts another failure. Clients that
// do not implement Pinger are restored unconditionally. It returns the
// number of clients brought back.
func (r *Registry) HealthCheck(ctx context.Context) int {
	r.mu.RLock()
	var suspects []*entry
	for _, e := range r.entries {
		if !e.available || e.failures > 0 {
			suspects = append(suspects, e)
		}
	}
	r.mu.RUnlock()

	restored := 0
	for _, e := range suspects {
		var err error
		if p, ok := e.client.(Pinger); ok {
			err = p.Ping(ctx)
		}
		if ctx.Err() != nil {
			return restored
		}

		r.mu.Lock()
		if err != nil {
			r.recordFailure(e, err)
			r.mu.Unlock()
			r.logger.Debug("health check failed", zap.Int("client", e.id), zap.String("url", e.url), zap.Error(err))
			continue
		}
		if !e.available {
			restored++
			r.logger.Info("client restored", zap.Int("client", e.id), zap.String("url", e.url))
		}
		e.available = true
		e.failures = 0
		r.mu.Unlock()
	}
	return restored
}

// Watch runs HealthCheck every interval until ctx is done. A non-positive
// interval disables it.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.HealthCheck(ctx)
		}
	}
}

// Status reports every client, available or not, in id order.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, len(r.entries))
	for i, e := range r.entries {
		out[i] = Status{ID: e.id, URL: e.url, Available: e.available, Failures: e.failures, FailedAt: e.failedAt}
		if e.lastErr != nil {
			out[i].LastError = e.lastErr.Error()
		}
	}
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close closes every owned client and returns all close errors combined.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for _, e := range r.entries {
		if e.closer != nil {
			err = multierr.Append(err, e.closer.Close())
		}
	}
	return err
}
