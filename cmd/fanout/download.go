package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ligustah/fanout/internal/progress"
	"github.com/ligustah/fanout/pkg/transfer"
)

func runDownload(args []string) int {
	fs := pflag.NewFlagSet("download", pflag.ContinueOnError)

	var ef engineFlags
	ef.register(fs)
	output := fs.StringP("output", "o", "", "Output file path (required)")
	showProgress := fs.BoolP("progress", "p", false, "Show progress on stderr")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fanout download [options] <media-id>

Fetch a media object into a local file. The object is split into chunks
fetched concurrently through every configured client and assembled in
order. Partial files are removed on failure; a complete file whose size
does not match the source is kept for inspection.

Options:`)
		fs.PrintDefaults()
	}

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	mediaID, ok := mediaArg(fs)
	if !ok {
		return ExitInvalidArgs
	}
	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: --output is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := ef.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *showProgress {
		cfg.Progress = true
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := openSession(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitSourceNotAccess
	}
	defer sess.Close()

	engine := sess.engine()
	if cfg.Progress {
		plan, err := engine.PlanRange(ctx, mediaID, 0, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitCodeFor(err)
		}

		opts := progress.Options{
			TotalSize:   plan.Total,
			TotalChunks: len(plan.Chunks),
			Clients:     len(sess.registry.Clients()),
			Output:      os.Stderr,
			Media:       mediaID,
		}
		if len(plan.Chunks) > 0 {
			opts.ChunkSize = plan.Chunks[0].Size()
		}
		reporter := progress.NewReporter(opts)
		engine = engine.With(transfer.WithObserver(reporter))
		reporter.Start()
		defer reporter.Stop()
	}

	if err := engine.DownloadToFile(ctx, mediaID, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	if !cfg.Progress {
		fmt.Fprintf(os.Stderr, "[fanout] Downloaded %s to %s\n", mediaID, *output)
	}
	return ExitSuccess
}
