// Package progress provides progress reporting for chunked downloads.
//
// Reporter implements transfer.Observer, so it can be handed straight to
// the engine with transfer.WithObserver.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize:   ref.Size,
//	    TotalChunks: len(plan.Chunks),
//	    Output:      os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[fanout] Downloading: media-42
//	[fanout] Total size: 2.5 GiB | Chunks: 8 x 320 MiB | Clients: 8
//	[fanout] Progress: 45.2% | 1.1 GiB / 2.5 GiB | Speed: 120 MiB/s | ETA: 12s
//	[fanout] Chunks: 3 completed | 5 in-progress | 0 pending
package progress
