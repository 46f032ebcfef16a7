package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// RangeTransfer moves a byte range of one media object either as a stream
// or into a file. Engine picks an implementation per session.
type RangeTransfer interface {
	Stream(ctx context.Context, ref MediaRef, start, length int64, logger *zap.Logger) (io.ReadCloser, error)
	Download(ctx context.Context, ref MediaRef, dest string, logger *zap.Logger) error
}

// Engine serves media ranges using every client in a Registry.
type Engine struct {
	registry Registry
	opts     Options
	fetcher  *Fetcher
	planner  Planner
	logger   *zap.Logger

	// media caches resolved refs by id; nil when caching is off.
	media *expirable.LRU[string, MediaRef]
}

// New creates an Engine over registry.
func New(registry Registry, options ...Option) *Engine {
	var opts Options
	for _, opt := range options {
		opt(&opts)
	}
	opts.applyDefaults()

	e := newEngine(registry, opts)
	if opts.MediaCacheTTL > 0 {
		e.media = expirable.NewLRU[string, MediaRef](opts.MediaCacheSize, nil, opts.MediaCacheTTL)
	}
	return e
}

func newEngine(registry Registry, opts Options) *Engine {
	return &Engine{
		registry: registry,
		opts:     opts,
		fetcher:  newFetcher(opts, opts.Logger),
		planner:  Planner{UnitSize: opts.UnitSize},
		logger:   opts.Logger,
	}
}

// With returns an Engine with extra options applied on top of e's. The new
// engine shares e's registry, load balancer and media cache.
func (e *Engine) With(options ...Option) *Engine {
	opts := e.opts
	for _, opt := range options {
		opt(&opts)
	}
	opts.applyDefaults()

	derived := newEngine(e.registry, opts)
	derived.media = e.media
	return derived
}

// Balancer returns the load balancer used by the engine.
func (e *Engine) Balancer() *LoadBalancer {
	return e.opts.Balancer
}

// Registry returns the registry the engine draws clients from.
func (e *Engine) Registry() Registry {
	return e.registry
}

// Options returns the effective engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// Stat resolves mediaID through the least-loaded client.
func (e *Engine) Stat(ctx context.Context, mediaID string) (MediaRef, error) {
	clients, err := e.clients()
	if err != nil {
		return MediaRef{}, err
	}
	return e.resolve(ctx, clients, mediaID)
}

// PlanRange returns the chunk plan StreamRange would use. A plan with a
// single chunk is served by the single-client path.
func (e *Engine) PlanRange(ctx context.Context, mediaID string, offset, limit int64) (Plan, error) {
	clients, err := e.clients()
	if err != nil {
		return Plan{}, err
	}
	ref, err := e.resolve(ctx, clients, mediaID)
	if err != nil {
		return Plan{}, err
	}
	start, length, err := resolveRange(ref.Size, offset, limit)
	if err != nil {
		return Plan{}, err
	}
	return e.planner.Plan(length, start, e.opts.MaxWorkers, clients)
}

// StreamRange returns the bytes [offset, offset+limit) of the media in
// order. A limit <= 0 streams to the end of the object. The returned reader
// is not restartable; Close it to release the session.
func (e *Engine) StreamRange(ctx context.Context, mediaID string, offset, limit int64) (io.ReadCloser, error) {
	clients, err := e.clients()
	if err != nil {
		return nil, err
	}
	ref, err := e.resolve(ctx, clients, mediaID)
	if err != nil {
		return nil, err
	}
	start, length, err := resolveRange(ref.Size, offset, limit)
	if err != nil {
		return nil, err
	}

	logger := e.sessionLogger(mediaID)
	logger.Debug("stream session started",
		zap.Int64("offset", start),
		zap.Int64("length", length),
		zap.Int("clients", len(clients)),
	)
	return e.transferFor(clients, length).Stream(ctx, ref, start, length, logger)
}

// DownloadToFile writes the whole media object to dest. On success the size
// of dest equals the media size; otherwise an *IntegrityError is returned.
func (e *Engine) DownloadToFile(ctx context.Context, mediaID, dest string) error {
	clients, err := e.clients()
	if err != nil {
		return err
	}
	ref, err := e.resolve(ctx, clients, mediaID)
	if err != nil {
		return err
	}

	logger := e.sessionLogger(mediaID)
	started := time.Now()
	logger.Info("download started",
		zap.Int64("size", ref.Size),
		zap.Int("clients", len(clients)),
		zap.String("dest", dest),
	)

	if err := e.transferFor(clients, ref.Size).Download(ctx, ref, dest, logger); err != nil {
		logger.Error("download failed", zap.Error(err))
		e.forget(mediaID)
		return err
	}

	logger.Info("download finished", zap.Duration("elapsed", time.Since(started)))
	return nil
}

// transferFor picks the single-client path when chunking cannot help.
func (e *Engine) transferFor(clients []Handle, size int64) RangeTransfer {
	if len(clients) < 2 || size < e.opts.UnitSize {
		return &single{engine: e, handle: clients[0]}
	}
	return &chunked{engine: e, clients: clients, opts: e.opts, fetcher: e.fetcher, planner: e.planner}
}

// clients returns the available clients ordered by current load.
func (e *Engine) clients() ([]Handle, error) {
	handles := e.registry.Clients()
	if len(handles) == 0 {
		return nil, ErrNoClients
	}
	return e.opts.Balancer.Rank(handles), nil
}

// resolve looks the media up through the first client, sleeping off rate
// limits. Successful lookups are cached for MediaCacheTTL.
func (e *Engine) resolve(ctx context.Context, clients []Handle, mediaID string) (MediaRef, error) {
	if e.media != nil {
		if ref, ok := e.media.Get(mediaID); ok {
			return ref, nil
		}
	}

	h := clients[0]
	for {
		ref, err := h.Client.MediaRef(ctx, mediaID)
		if err == nil {
			if e.media != nil {
				e.media.Add(mediaID, ref)
			}
			return ref, nil
		}
		if rl, ok := AsRateLimit(err); ok {
			e.logger.Warn("rate limited resolving media",
				zap.String("media", mediaID), zap.Int("client", h.ID), zap.Duration("wait", rl.Wait))
			if err := e.opts.Sleep(ctx, rl.Wait); err != nil {
				return MediaRef{}, err
			}
			continue
		}
		e.reportFailure(h.ID, err)
		return MediaRef{}, fmt.Errorf("resolve %s: %w", mediaID, err)
	}
}

// forget drops a cached ref so the next session resolves it again.
func (e *Engine) forget(mediaID string) {
	if e.media != nil {
		e.media.Remove(mediaID)
	}
}

func (e *Engine) reportFailure(clientID int, err error) {
	if !IsConnectionError(err) {
		return
	}
	if fr, ok := e.registry.(FailureReporter); ok {
		fr.ReportFailure(clientID, err)
	}
}

func (e *Engine) sessionLogger(mediaID string) *zap.Logger {
	return e.logger.With(zap.String("session", uuid.NewString()), zap.String("media", mediaID))
}

// resolveRange clamps [offset, offset+limit) to an object of the given size.
func resolveRange(size, offset, limit int64) (start, length int64, err error) {
	if offset < 0 || offset > size {
		return 0, 0, fmt.Errorf("%w: offset %d outside object of %d bytes", ErrInvalidRange, offset, size)
	}
	end := size - 1
	if limit > 0 {
		end = min(offset+limit-1, size-1)
	}
	return offset, end - offset + 1, nil
}

// chunked splits a transfer across several clients.
type chunked struct {
	engine  *Engine
	clients []Handle
	opts    Options
	fetcher *Fetcher
	planner Planner
}

func (c *chunked) plan(total, start int64) (Plan, error) {
	return c.planner.Plan(total, start, c.opts.MaxWorkers, c.clients)
}

// Stream plans the range and reassembles concurrently fetched chunks in
// order. A one-chunk plan streams directly from its client.
func (c *chunked) Stream(ctx context.Context, ref MediaRef, start, length int64, logger *zap.Logger) (io.ReadCloser, error) {
	plan, err := c.plan(length, start)
	if err != nil {
		return nil, err
	}
	if len(plan.Chunks) == 1 {
		d := plan.Chunks[0]
		s := &single{engine: c.engine, handle: Handle{ID: d.ClientID, Client: d.Client}}
		return s.Stream(ctx, ref, start, length, logger)
	}
	logger.Debug("streaming chunk plan", zap.Int("chunks", len(plan.Chunks)))
	return c.startStream(ctx, ref, plan, logger), nil
}

func (c *chunked) reportFailure(clientID int, err error) {
	c.engine.reportFailure(clientID, err)
}
