package transfer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultReadUnit is the largest single range read issued to a client.
const DefaultReadUnit = 1024 * 1024

// DefaultCopyBufferSize is the buffer used when concatenating chunk files.
const DefaultCopyBufferSize = 64 * 1024

// Media cache defaults.
const (
	DefaultMediaCacheSize = 256
	DefaultMediaCacheTTL  = 30 * time.Second
)

// Options configures an Engine.
type Options struct {
	// UnitSize is the chunking threshold and alignment (default 1 MiB).
	UnitSize int64

	// MaxWorkers caps concurrent chunk fetches per session (default 8).
	MaxWorkers int

	// ReadUnit bounds each range read issued to a client (default 1 MiB).
	ReadUnit int64

	// QueueDepth is the capacity of the streaming result queue.
	// Default: twice the number of chunks in the session.
	QueueDepth int

	// CopyBufferSize is the buffer used to concatenate chunk files (default 64 KiB).
	CopyBufferSize int

	// TempDir is where chunk files are staged. Default: os.TempDir().
	TempDir string

	// Logger receives structured engine logs. Default: no-op.
	Logger *zap.Logger

	// Observer receives per-chunk progress. Optional.
	Observer Observer

	// Balancer tracks per-client load. Default: a fresh LoadBalancer.
	// Share one across engines that use the same registry.
	Balancer *LoadBalancer

	// Sleep waits for a rate-limit backoff. Default: context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// MediaCacheSize bounds the number of resolved media kept (default 256).
	MediaCacheSize int

	// MediaCacheTTL is how long a resolved media stays valid (default 30s).
	// A negative TTL disables the cache.
	MediaCacheTTL time.Duration
}

// Option is a functional option for configuring an Engine.
type Option func(*Options)

// WithUnitSize sets the chunking threshold and alignment.
func WithUnitSize(size int64) Option {
	return func(o *Options) {
		o.UnitSize = size
	}
}

// WithMaxWorkers sets the maximum number of concurrent chunk fetches.
func WithMaxWorkers(n int) Option {
	return func(o *Options) {
		o.MaxWorkers = n
	}
}

// WithReadUnit sets the size of each range read.
func WithReadUnit(size int64) Option {
	return func(o *Options) {
		o.ReadUnit = size
	}
}

// WithQueueDepth sets the capacity of the streaming result queue.
func WithQueueDepth(n int) Option {
	return func(o *Options) {
		o.QueueDepth = n
	}
}

// WithCopyBufferSize sets the buffer size used to concatenate chunk files.
func WithCopyBufferSize(n int) Option {
	return func(o *Options) {
		o.CopyBufferSize = n
	}
}

// WithTempDir sets the directory used to stage chunk files.
func WithTempDir(dir string) Option {
	return func(o *Options) {
		o.TempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithObserver sets the progress observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithBalancer shares a LoadBalancer with the engine.
func WithBalancer(b *LoadBalancer) Option {
	return func(o *Options) {
		o.Balancer = b
	}
}

// WithMediaCache sets the size and lifetime of the resolved media cache.
// A negative ttl disables caching.
func WithMediaCache(size int, ttl time.Duration) Option {
	return func(o *Options) {
		o.MediaCacheSize = size
		o.MediaCacheTTL = ttl
	}
}

// WithSleep replaces the rate-limit sleep. Intended for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Options) {
		o.Sleep = fn
	}
}

func (o *Options) applyDefaults() {
	if o.UnitSize <= 0 {
		o.UnitSize = DefaultUnitSize
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.ReadUnit <= 0 {
		o.ReadUnit = DefaultReadUnit
	}
	if o.CopyBufferSize <= 0 {
		o.CopyBufferSize = DefaultCopyBufferSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Balancer == nil {
		o.Balancer = NewLoadBalancer()
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.MediaCacheSize <= 0 {
		o.MediaCacheSize = DefaultMediaCacheSize
	}
	if o.MediaCacheTTL == 0 {
		o.MediaCacheTTL = DefaultMediaCacheTTL
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
