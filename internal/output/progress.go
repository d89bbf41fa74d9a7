package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/overbench/overbench/internal/metrics"
)

// ProgressReporter displays a periodic heartbeat with the stage the
// pipeline is currently executing.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			elapsed := time.Since(p.start).Round(time.Second)
			stage := p.collector.CurrentStage()
			if stage == "" {
				stage = "starting"
			}
			line := fmt.Sprintf("\rStage: %-16s | Elapsed: %s", stage, elapsed)
			stats := p.collector.Stats(elapsed)
			if stats.Samples > 0 {
				line += fmt.Sprintf(" | Samples: %d (%d failed)", stats.Samples, stats.Failures)
			}
			fmt.Fprint(p.writer, line)
		case <-p.done:
			return
		}
	}
}
