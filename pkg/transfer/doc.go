// Package transfer serves byte ranges of stored media through several
// independent client connections at once.
//
// A requested range is split into contiguous chunks, each bound to one
// client. Chunks are fetched concurrently and reassembled in order, either
// as a stream or into a file.
//
// # Usage
//
//	engine := transfer.New(registry,
//	    transfer.WithMaxWorkers(8),
//	    transfer.WithUnitSize(1024*1024),
//	    transfer.WithLogger(logger),
//	)
//
//	// Stream bytes [offset, offset+limit)
//	rc, err := engine.StreamRange(ctx, mediaID, offset, limit)
//	defer rc.Close()
//
//	// Whole object to disk
//	err = engine.DownloadToFile(ctx, mediaID, "/tmp/out.bin")
//
// # Planning
//
// Planner produces at most min(maxWorkers, clients, ceil(total/unit)) chunks,
// aligned to the unit size, with the last chunk holding the remainder.
// Chunk i goes to clients[i mod len(clients)]; the engine passes clients
// ordered by current load, so the least-loaded client gets chunk 0.
//
// Ranges below one unit, or sessions with a single client, skip planning
// and use one direct read loop.
//
// # Load Accounting
//
// LoadBalancer keeps an atomic in-flight counter per client id. Every chunk
// fetch increments its client's counter and decrements it when the fetch
// returns, whatever the outcome. After a session settles all counters are
// back to their previous values.
//
// # Errors
//
//   - *RateLimitError: the fetch sleeps for Wait and retries the same read
//   - *ConnectionError: fatal, never retried, aborts the session
//   - ErrNotFound: fatal for the media
//   - *IntegrityError: assembled file has the wrong size
//
// Chunk failures are wrapped in *ChunkError carrying the chunk index. The
// first failure cancels every other fetch of the session.
package transfer
