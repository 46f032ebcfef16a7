package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gocloud.dev/blob"

	"github.com/ligustah/fanout/internal/blobsource"
	"github.com/ligustah/fanout/internal/progress"
)

func runPublish(args []string) int {
	fs := pflag.NewFlagSet("publish", pflag.ContinueOnError)

	bucketURL := fs.StringP("bucket", "b", "", "Destination bucket URL (required)")
	input := fs.StringP("file", "f", "-", "Input file, or - for stdin")
	shardSize := fs.String("shard-size", "64MiB", "Size of each stored shard (e.g., 64MiB)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fanout publish [options] <media-id>

Store a local file in object storage as sharded media. Shards are written
first and the manifest last, so clients never observe a partial object.

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
	if *bucketURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --bucket is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	size, err := progress.ParseBytes(*shardSize)
	if err != nil || size <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid --shard-size %q\n", *shardSize)
		return ExitInvalidArgs
	}

	var r io.Reader = os.Stdin
	source := "stdin"
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		r = f
		source = filepath.Base(*input)
	}

	ctx, cancel := signalContext()
	defer cancel()

	bucket, err := blob.OpenBucket(ctx, *bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	m, err := blobsource.Publish(ctx, bucket, mediaID, r, size, map[string]string{"source": source})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[fanout] Published %s: %s in %d shards\n",
		mediaID, progress.FormatBytes(m.TotalSize), len(m.Shards))
	return ExitSuccess
}
