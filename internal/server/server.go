package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ligustah/fanout/internal/registry"
	"github.com/ligustah/fanout/pkg/transfer"
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// ShutdownTimeout bounds how long Run waits for in-flight requests.
	ShutdownTimeout time.Duration

	// CopyBufferSize is the buffer used to copy a stream to the response.
	CopyBufferSize int
}

// Server exposes an Engine over HTTP.
type Server struct {
	engine   *transfer.Engine
	registry *registry.Registry
	logger   *zap.Logger
	opts     Options
	router   chi.Router
}

// New creates a server. reg may be nil, in which case /debug/loads omits
// client status.
func New(engine *transfer.Engine, reg *registry.Registry, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.CopyBufferSize <= 0 {
		opts.CopyBufferSize = 64 * 1024
	}

	s := &Server{
		engine:   engine,
		registry: reg,
		logger:   logger,
		opts:     opts,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/debug/loads", s.handleLoads)
	r.Route("/media", func(r chi.Router) {
		r.Get("/{id}", s.handleMedia)
		r.Head("/{id}", s.handleMedia)
	})

	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if len(s.engine.Registry().Clients()) == 0 {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, http.StatusText(status))
}

type loadsResponse struct {
	Loads   map[int]int64     `json:"loads"`
	Clients []registry.Status `json:"clients,omitempty"`
}

func (s *Server) handleLoads(w http.ResponseWriter, r *http.Request) {
	resp := loadsResponse{Loads: s.engine.Balancer().Snapshot()}
	if s.registry != nil {
		resp.Clients = s.registry.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode loads", zap.Error(err))
	}
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	ref, err := s.engine.Stat(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", "application/octet-stream")
	if ref.ETag != "" {
		h.Set("ETag", strconv.Quote(ref.ETag))
	}

	rng := byteRange{Start: 0, Length: ref.Size}
	status := http.StatusOK
	if header := r.Header.Get("Range"); header != "" {
		parsed, err := parseRange(header, ref.Size)
		switch {
		case errors.Is(err, errUnsatisfiable):
			h.Set("Content-Range", "bytes */"+strconv.FormatInt(ref.Size, 10))
			http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		case err == nil:
			rng = parsed
			status = http.StatusPartialContent
		}
	}

	// Content-Range is only valid on a 206 and must not leak into error
	// responses written after this point.
	writeHeader := func() {
		if status == http.StatusPartialContent {
			h.Set("Content-Range", "bytes "+strconv.FormatInt(rng.Start, 10)+"-"+
				strconv.FormatInt(rng.end(), 10)+"/"+strconv.FormatInt(ref.Size, 10))
		}
		h.Set("Content-Length", strconv.FormatInt(rng.Length, 10))
		w.WriteHeader(status)
	}

	if r.Method == http.MethodHead || rng.Length == 0 {
		writeHeader()
		return
	}

	rc, err := s.engine.StreamRange(ctx, id, rng.Start, rng.Length)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	// Read the first bytes before committing to a status so that failures
	// of the initial fetch still produce an error response.
	buf := make([]byte, s.opts.CopyBufferSize)
	n, err := io.ReadAtLeast(rc, buf, 1)
	if err != nil && err != io.EOF {
		s.writeError(w, r, err)
		return
	}

	writeHeader()
	if _, err := w.Write(buf[:n]); err != nil {
		return
	}
	if _, err := io.CopyBuffer(w, rc, buf); err != nil {
		s.logger.Warn("stream aborted",
			zap.String("media", id),
			zap.String("request_id", middleware.GetReqID(ctx)),
			zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if rl, ok := transfer.AsRateLimit(err); ok {
		secs := int64(math.Ceil(rl.Wait.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
	}
	http.Error(w, http.StatusText(status), status)
}

// statusFor maps engine errors to response codes.
func statusFor(err error) int {
	if _, ok := transfer.AsRateLimit(err); ok {
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, transfer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, transfer.ErrNoClients):
		return http.StatusServiceUnavailable
	case transfer.IsConnectionError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("range", r.Header.Get("Range")),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(started)),
					zap.String("remote", r.RemoteAddr),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
