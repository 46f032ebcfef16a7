package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// single transfers a range through one client without chunking. It is used
// when only one client is available or the range is below one unit.
type single struct {
	engine *Engine
	handle Handle
}

// Stream pipes a direct range-read loop against the client. The client's
// load counter is held until the producer exits.
func (s *single) Stream(ctx context.Context, ref MediaRef, start, length int64, logger *zap.Logger) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(eofReader{}), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	done := make(chan struct{})

	balancer := s.engine.opts.Balancer
	balancer.Increment(s.handle.ID)

	go func() {
		defer close(done)
		defer balancer.Decrement(s.handle.ID)

		_, err := s.engine.fetcher.copyRange(ctx, s.handle.Client, ref, start, start+length-1, pw,
			zap.Int("client", s.handle.ID))
		if err != nil {
			s.engine.reportFailure(s.handle.ID, err)
			if !readerGone(err) {
				logger.Error("single-client stream failed", zap.Int("client", s.handle.ID), zap.Error(err))
			}
		}
		pw.CloseWithError(err)
	}()

	return &pipeStream{PipeReader: pr, cancel: cancel, done: done}, nil
}

// Download copies the whole object straight into dest. A failed transfer
// removes dest; a size mismatch leaves it in place.
func (s *single) Download(ctx context.Context, ref MediaRef, dest string, logger *zap.Logger) error {
	balancer := s.engine.opts.Balancer
	balancer.Increment(s.handle.ID)
	defer balancer.Decrement(s.handle.ID)

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	s.engine.opts.Observer.ChunkStarted()
	_, err = s.engine.fetcher.copyRange(ctx, s.handle.Client, ref, 0, ref.Size-1, out,
		zap.Int("client", s.handle.ID))
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close output: %w", closeErr)
	}
	if err != nil {
		s.engine.opts.Observer.ChunkFailed()
		s.engine.reportFailure(s.handle.ID, err)
		removePartial(dest, logger)
		return err
	}

	written, err := verifySize(dest, ref.Size)
	if err != nil {
		s.engine.opts.Observer.ChunkFailed()
		return err
	}
	s.engine.opts.Observer.ChunkCompleted(written)
	return nil
}

// readerGone reports whether err only means the consumer stopped reading.
func readerGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe)
}

// removePartial deletes an incomplete output file.
func removePartial(path string, logger *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("remove partial output", zap.String("path", path), zap.Error(err))
	}
}

// pipeStream cancels the producer on Close and waits for it to exit.
type pipeStream struct {
	*io.PipeReader
	cancel context.CancelFunc
	done   <-chan struct{}
}

func (p *pipeStream) Close() error {
	err := p.PipeReader.Close()
	p.cancel()
	<-p.done
	return err
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
