package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Download fetches every chunk of plan into its own file under a temporary
// working directory, then concatenates them into dest in index order and
// checks the final size. The working directory is always removed.
func (c *chunked) Download(ctx context.Context, ref MediaRef, dest string, logger *zap.Logger) error {
	plan, err := c.plan(ref.Size, 0)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(c.opts.TempDir, "fanout-dl-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("remove work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	paths, err := c.fetchToFiles(ctx, ref, plan, workDir)
	if err != nil {
		return err
	}

	if err := c.concatenate(paths, dest, logger); err != nil {
		return err
	}

	_, err = verifySize(dest, ref.Size)
	return err
}

// fetchToFiles runs all chunk fetches concurrently and waits for every one
// of them. The first failure cancels the others.
func (c *chunked) fetchToFiles(ctx context.Context, ref MediaRef, plan Plan, workDir string) ([]string, error) {
	paths := make([]string, len(plan.Chunks))
	g, gctx := errgroup.WithContext(ctx)

	for _, d := range plan.Chunks {
		path := filepath.Join(workDir, fmt.Sprintf("chunk-%06d", d.Index))
		paths[d.Index] = path

		g.Go(func() error {
			f, err := os.Create(path)
			if err != nil {
				return &ChunkError{Index: d.Index, ClientID: d.ClientID, Err: err}
			}
			_, err = c.fetcher.FetchTo(gctx, ref, d, f)
			if closeErr := f.Close(); err == nil && closeErr != nil {
				err = &ChunkError{Index: d.Index, ClientID: d.ClientID, Err: closeErr}
			}
			if err != nil {
				c.reportFailure(d.ClientID, err)
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// concatenate copies chunk files into dest in order, removing each chunk
// file once it has been copied. dest is removed if the copy fails.
func (c *chunked) concatenate(paths []string, dest string, logger *zap.Logger) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	buf := make([]byte, c.opts.CopyBufferSize)
	for i, path := range paths {
		if err := appendFile(out, path, buf); err != nil {
			out.Close()
			removePartial(dest, logger)
			return fmt.Errorf("append chunk %d: %w", i, err)
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("remove chunk file", zap.String("path", path), zap.Error(err))
		}
	}

	if err := out.Close(); err != nil {
		removePartial(dest, logger)
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func appendFile(out io.Writer, path string, buf []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	// Hide ReadFrom/WriteTo so the copy goes through buf.
	_, err = io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{f}, buf)
	return err
}

// verifySize compares the size of the file at path against expected.
func verifySize(path string, expected int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat output: %w", err)
	}
	if info.Size() != expected {
		return info.Size(), &IntegrityError{Path: path, Expected: expected, Actual: info.Size()}
	}
	return info.Size(), nil
}
