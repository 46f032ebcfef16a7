package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gocloud.dev/blob"

	"github.com/ligustah/fanout/internal/blobsource"
	"github.com/ligustah/fanout/internal/progress"
)

func runValidate(args []string) int {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)

	bucketURL := fs.StringP("bucket", "b", "", "Bucket URL (required)")
	verify := fs.Bool("verify", false, "Read every shard and compare checksums")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fanout validate [options] <media-id>

Check that every shard of published media exists with the recorded size.

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

	ctx, cancel := signalContext()
	defer cancel()

	bucket, err := blob.OpenBucket(ctx, *bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	result, err := blobsource.Validate(ctx, bucket, mediaID, *verify)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Fprintf(stdout, "Media:  %s\n", mediaID)
	fmt.Fprintf(stdout, "Size:   %s\n", progress.FormatBytes(result.TotalSize))
	fmt.Fprintf(stdout, "Shards: %d\n", result.ShardCount)
	if result.Valid {
		fmt.Fprintln(stdout, "Status: OK")
		return ExitSuccess
	}

	fmt.Fprintln(stdout, "Status: INVALID")
	for _, e := range result.Errors {
		fmt.Fprintf(stdout, "  - %s\n", e)
	}
	return ExitValidationFailed
}

func runDelete(args []string) int {
	fs := pflag.NewFlagSet("delete", pflag.ContinueOnError)

	bucketURL := fs.StringP("bucket", "b", "", "Bucket URL (required)")
	force := fs.Bool("force", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fanout delete [options] <media-id>

Remove published media: the manifest first, then every shard.

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

	if !*force {
		fmt.Fprintf(os.Stderr, "Delete %s from %s? [y/N] ", mediaID, *bucketURL)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted")
			return ExitSuccess
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	bucket, err := blob.OpenBucket(ctx, *bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	if err := blobsource.Delete(ctx, bucket, mediaID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	fmt.Fprintf(os.Stderr, "[fanout] Deleted %s\n", mediaID)
	return ExitSuccess
}
