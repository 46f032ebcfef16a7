package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/fanout/pkg/transfer"
)

var _ transfer.Observer = (*Reporter)(nil)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the number of bytes the session will transfer.
	TotalSize int64

	// TotalChunks is the number of chunks in the session plan.
	TotalChunks int

	// Clients is the number of clients serving the session.
	Clients int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Media is the media id being transferred (for display).
	Media string

	// ChunkSize is the planned size of each chunk (for display).
	ChunkSize int64
}

// Reporter outputs human-readable progress information. It receives chunk
// events from the transfer engine.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	completedBytes  atomic.Int64
	completedChunks atomic.Int32
	failedChunks    atomic.Int32
	inProgress      atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastBytes       int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[fanout] Downloading: %s\n", r.opts.Media)
	fmt.Fprintf(r.opts.Output, "[fanout] Total size: %s | Chunks: %d x %s | Clients: %d\n",
		FormatBytes(r.opts.TotalSize),
		r.opts.TotalChunks,
		FormatBytes(r.opts.ChunkSize),
		r.opts.Clients,
	)

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status. It waits for the
// final status to be written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// ChunkCompleted marks a chunk as completed with size bytes.
func (r *Reporter) ChunkCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkFailed marks a chunk as failed (removes from in-progress).
func (r *Reporter) ChunkFailed() {
	r.failedChunks.Add(1)
	r.inProgress.Add(-1)
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	completedChunks := int(r.completedChunks.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	var eta string
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		} else {
			eta = "calculating..."
		}
	}

	pending := max(r.opts.TotalChunks-completedChunks-inProgress, 0)

	fmt.Fprintf(r.opts.Output, "\r[fanout] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[fanout] Chunks: %d completed | %d in-progress | %d pending    \033[A",
		completedChunks,
		inProgress,
		pending,
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	completedChunks := int(r.completedChunks.Load())
	failed := int(r.failedChunks.Load())
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	status := "Complete!"
	if failed > 0 {
		status = "Failed"
	}

	fmt.Fprintf(r.opts.Output, "\r[fanout] Progress: %s / %s | Speed: %s/s | %s    \n",
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(avgSpeed)),
		status,
	)
	fmt.Fprintf(r.opts.Output, "[fanout] Chunks: %d completed | %d failed    \n",
		completedChunks,
		failed,
	)
	fmt.Fprintf(r.opts.Output, "[fanout] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats b with IEC units, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable size. IEC suffixes (KiB, MiB) are
// powers of 1024, SI suffixes (KB, MB) powers of 1000, and a bare number
// is bytes.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("byte string %q out of range", s)
	}
	return int64(n), nil
}
