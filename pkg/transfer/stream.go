package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// reassembler restores chunk order. Payloads that arrive before their turn
// wait in pending until every lower index has been emitted.
type reassembler struct {
	total   int
	next    int
	pending map[int][]byte
}

func newReassembler(total int) *reassembler {
	return &reassembler{total: total, pending: make(map[int][]byte)}
}

// push accepts one completed chunk and returns the payloads that are now
// ready, in order.
func (r *reassembler) push(index int, payload []byte) [][]byte {
	if index < r.next {
		return nil
	}
	if index != r.next {
		r.pending[index] = payload
		return nil
	}

	ready := [][]byte{payload}
	r.next++
	for {
		p, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		ready = append(ready, p)
		r.next++
	}
	return ready
}

func (r *reassembler) done() bool {
	return r.next >= r.total
}

// streamReader is the consumer side of a chunked streaming session.
type streamReader struct {
	queue  <-chan FetchResult
	stop   chan struct{}
	cancel context.CancelFunc
	done   <-chan struct{}

	asm       *reassembler
	ready     [][]byte
	err       error
	closed    atomic.Bool
	closeOnce sync.Once
}

// startStream launches every fetch in plan and returns a reader that yields
// their payloads in index order.
func (c *chunked) startStream(ctx context.Context, ref MediaRef, plan Plan, logger *zap.Logger) *streamReader {
	depth := c.opts.QueueDepth
	if depth <= 0 {
		depth = 2 * len(plan.Chunks)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	queue := make(chan FetchResult, depth)
	stop := make(chan struct{})
	done := make(chan struct{})

	go c.coordinate(fetchCtx, cancel, ref, plan, queue, stop, done, logger)

	return &streamReader{
		queue:  queue,
		stop:   stop,
		cancel: cancel,
		done:   done,
		asm:    newReassembler(len(plan.Chunks)),
	}
}

// coordinate runs all fetches concurrently and pushes results onto queue in
// completion order. The first failure cancels the remaining fetches and is
// pushed once as the error sentinel; later results are dropped.
func (c *chunked) coordinate(ctx context.Context, cancel context.CancelFunc, ref MediaRef, plan Plan, queue chan<- FetchResult, stop <-chan struct{}, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)
	defer close(queue)
	defer cancel()

	var (
		wg     sync.WaitGroup
		failed atomic.Bool
	)

	for _, d := range plan.Chunks {
		wg.Add(1)
		go func(d ChunkDescriptor) {
			defer wg.Done()

			res := c.fetcher.Fetch(ctx, ref, d)
			if res.Err != nil {
				if !failed.CompareAndSwap(false, true) {
					return
				}
				cancel()
				c.reportFailure(d.ClientID, res.Err)
				logger.Debug("stream session aborting", zap.Int("chunk", d.Index), zap.Error(res.Err))
				select {
				case queue <- res:
				case <-stop:
				}
				return
			}

			if failed.Load() {
				return
			}
			select {
			case queue <- res:
			case <-ctx.Done():
			case <-stop:
			}
		}(d)
	}

	wg.Wait()
}

// Read implements io.Reader.
func (s *streamReader) Read(p []byte) (int, error) {
	for {
		if s.closed.Load() {
			return 0, io.ErrClosedPipe
		}
		if s.err != nil {
			return 0, s.err
		}

		if len(s.ready) > 0 {
			n := copy(p, s.ready[0])
			if n == len(s.ready[0]) {
				s.ready[0] = nil
				s.ready = s.ready[1:]
			} else {
				s.ready[0] = s.ready[0][n:]
			}
			if n > 0 || len(p) == 0 {
				return n, nil
			}
			continue
		}

		if s.asm.done() {
			if len(s.asm.pending) != 0 {
				s.err = errors.New("transfer: reassembly finished with pending chunks")
				return 0, s.err
			}
			s.err = io.EOF
			return 0, io.EOF
		}

		res, ok := <-s.queue
		if !ok {
			s.err = io.ErrUnexpectedEOF
			return 0, s.err
		}
		if res.Err != nil {
			s.err = res.Err
			return 0, s.err
		}
		s.ready = append(s.ready, s.asm.push(res.Index, res.Payload)...)
	}
}

// Close stops the session. Fetches still in flight are cancelled and Close
// waits for them, so every load counter is released when it returns.
func (s *streamReader) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.cancel()
		<-s.done
	})
	return nil
}
