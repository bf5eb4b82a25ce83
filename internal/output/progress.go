package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/runinfo"
)

// ProgressReporter displays real-time run progress.
type ProgressReporter struct {
	runInfo  *runinfo.RunInfo
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(ri *runinfo.RunInfo, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		runInfo:  ri,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and prints a final line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer, p.Line())
	}
}

// Line renders the current progress.
func (p *ProgressReporter) Line() string {
	ri := p.runInfo
	iterations := ri.Iteration() + 1
	elapsed := ri.RunTime()
	line := fmt.Sprintf("\rIterations: %d | Elapsed: %s | Progress: %.0f%%",
		iterations, measurement.FormatClock(elapsed), ri.Percentage())
	if secs := elapsed.Seconds(); secs > 0 {
		line += fmt.Sprintf(" | Rate: %.1f/s", float64(iterations)/secs)
	}
	return line
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.Line())
		case <-p.done:
			return
		}
	}
}
