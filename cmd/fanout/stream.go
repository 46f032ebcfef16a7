package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func runStream(args []string) int {
	fs := pflag.NewFlagSet("stream", pflag.ContinueOnError)

	var ef engineFlags
	ef.register(fs)
	offset := fs.Int64("offset", 0, "First byte to stream")
	limit := fs.Int64("limit", 0, "Number of bytes to stream; 0 streams to the end")
	output := fs.StringP("output", "o", "", "Write to this file instead of stdout")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fanout stream [options] <media-id>

Write bytes [offset, offset+limit) of a media object in order. Chunks are
fetched concurrently and reassembled before they are written.

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

	cfg, err := ef.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := openSession(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitSourceNotAccess
	}
	defer sess.Close()

	out := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating file: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		out = f
	}

	rc, err := sess.engine().StreamRange(ctx, mediaID, *offset, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	defer rc.Close()

	n, err := io.CopyBuffer(out, rc, make([]byte, cfg.CopyBuffer))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error after %d bytes: %v\n", n, err)
		return exitCodeFor(err)
	}
	sess.logger.Debug("stream finished", zap.String("media", mediaID), zap.Int64("bytes", n))
	return ExitSuccess
}
