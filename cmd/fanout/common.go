package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ligustah/fanout/internal/config"
	fhttp "github.com/ligustah/fanout/internal/http"
	"github.com/ligustah/fanout/internal/logging"
	"github.com/ligustah/fanout/internal/progress"
	"github.com/ligustah/fanout/internal/registry"
	"github.com/ligustah/fanout/pkg/transfer"
)

// engineFlags are shared by every command that builds an engine. Flags
// override the environment, which overrides the config file.
type engineFlags struct {
	configPath     string
	clients        []string
	workers        int
	chunkSize      string
	readUnit       string
	queueDepth     int
	tempDir        string
	logLevel       string
	logFormat      string
	bandwidthLimit string
}

func (f *engineFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML config file")
	fs.StringArrayVarP(&f.clients, "client", "c", nil, "Source URL; repeat for more clients")
	fs.IntVarP(&f.workers, "workers", "w", 0, "Maximum concurrent chunks per session")
	fs.StringVar(&f.chunkSize, "chunk-size", "", "Chunk alignment unit (e.g., 1MiB)")
	fs.StringVar(&f.readUnit, "read-unit", "", "Bytes requested per range read")
	fs.IntVar(&f.queueDepth, "queue-depth", 0, "Completed chunks buffered ahead of a stream reader")
	fs.StringVar(&f.tempDir, "temp-dir", "", "Directory for chunk staging files")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: json or console")
	fs.StringVar(&f.bandwidthLimit, "bandwidth-limit", "", "Per HTTP client bandwidth cap (e.g., 10MiB)")
}

// config resolves the effective configuration.
func (f *engineFlags) config() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		Clients:    f.clients,
		Workers:    f.workers,
		QueueDepth: f.queueDepth,
		TempDir:    f.tempDir,
		Log:        config.LogConfig{Level: f.logLevel, Format: f.logFormat},
	}
	for _, s := range []struct {
		flag, value string
		dst         *int64
	}{
		{"chunk-size", f.chunkSize, &override.ChunkSize},
		{"read-unit", f.readUnit, &override.ReadUnit},
		{"bandwidth-limit", f.bandwidthLimit, &override.HTTP.BandwidthLimit},
	} {
		if s.value == "" {
			continue
		}
		n, err := progress.ParseBytes(s.value)
		if err != nil {
			return config.Config{}, fmt.Errorf("--%s: %w", s.flag, err)
		}
		*s.dst = n
	}

	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// session holds what every engine command needs.
type session struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *registry.Registry
}

func openSession(ctx context.Context, cfg config.Config) (*session, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	httpOpts := fhttp.DefaultOptions()
	httpOpts.Timeout = cfg.HTTP.Timeout
	httpOpts.RetryAttempts = cfg.Retry.Attempts
	httpOpts.RetryBackoff = cfg.Retry.Backoff
	httpOpts.RetryMaxBackoff = cfg.Retry.MaxBackoff

	reg, err := registry.Build(ctx, cfg.Clients, registry.Options{
		HTTP:           httpOpts,
		BandwidthLimit: cfg.HTTP.BandwidthLimit,
		MaxFailures:    cfg.Health.MaxFailures,
		Logger:         logger,
	})
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, registry: reg}, nil
}

func (s *session) engine(extra ...transfer.Option) *transfer.Engine {
	opts := []transfer.Option{
		transfer.WithUnitSize(s.cfg.ChunkSize),
		transfer.WithMaxWorkers(s.cfg.Workers),
		transfer.WithReadUnit(s.cfg.ReadUnit),
		transfer.WithQueueDepth(s.cfg.QueueDepth),
		transfer.WithCopyBufferSize(int(s.cfg.CopyBuffer)),
		transfer.WithLogger(s.logger),
	}
	if s.cfg.TempDir != "" {
		opts = append(opts, transfer.WithTempDir(s.cfg.TempDir))
	}
	return transfer.New(s.registry, append(opts, extra...)...)
}

func (s *session) Close() {
	if err := s.registry.Close(); err != nil {
		s.logger.Warn("close clients", zap.Error(err))
	}
	s.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[fanout] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// parseFlags parses args into fs. On failure it returns the exit code to
// use; -h and --help exit successfully.
func parseFlags(fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess, false
		}
		return ExitInvalidArgs, false
	}
	return ExitSuccess, true
}

// mediaArg returns the single positional media id.
func mediaArg(fs *pflag.FlagSet) (string, bool) {
	if fs.NArg() != 1 || fs.Arg(0) == "" {
		fmt.Fprintln(os.Stderr, "Error: exactly one media id is required")
		fs.Usage()
		return "", false
	}
	return fs.Arg(0), true
}
