package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ligustah/fanout/internal/progress"
)

func runInfo(args []string) int {
	fs := pflag.NewFlagSet("info", pflag.ContinueOnError)

	var ef engineFlags
	ef.register(fs)
	offset := fs.Int64("offset", 0, "First byte of the planned range")
	limit := fs.Int64("limit", 0, "Length of the planned range; 0 plans to the end")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fanout info [options] <media-id>

Resolve a media object and print the chunk plan a transfer would use
with the current client loads.

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

	engine := sess.engine()
	ref, err := engine.Stat(ctx, mediaID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	plan, err := engine.PlanRange(ctx, mediaID, *offset, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Fprintf(stdout, "Media:      %s\n", ref.ID)
	fmt.Fprintf(stdout, "Size:       %s (%d bytes)\n", progress.FormatBytes(ref.Size), ref.Size)
	if ref.ETag != "" {
		fmt.Fprintf(stdout, "ETag:       %s\n", ref.ETag)
	}
	fmt.Fprintf(stdout, "Streamable: %t\n", ref.Streamable)
	fmt.Fprintf(stdout, "Clients:    %d of %d available\n", len(sess.registry.Clients()), sess.registry.Len())
	fmt.Fprintf(stdout, "Range:      %d+%d\n", plan.RangeStart, plan.Total)
	fmt.Fprintf(stdout, "Chunks:     %d\n", len(plan.Chunks))
	for _, c := range plan.Chunks {
		fmt.Fprintf(stdout, "  #%-4d %12d-%-12d %10s  client %d\n",
			c.Index, c.Start, c.End, progress.FormatBytes(c.Size()), c.ClientID)
	}
	return ExitSuccess
}
