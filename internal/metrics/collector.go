package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records per-sample benchmark durations and per-stage
// pipeline timings in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minDuration  time.Duration
	maxDuration  time.Duration
	sumDuration  time.Duration
	stages       []StageTiming
	currentStage string
	start        time.Time
}

// StageTiming records one executed pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage" yaml:"stage"`
	Duration time.Duration `json:"-" yaml:"-"`
	Ms       float64       `json:"duration_ms" yaml:"duration_ms"`
	Failed   bool          `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Stats represents aggregated sample metrics.
type Stats struct {
	Samples   int64         `json:"samples"`
	Successes int64         `json:"successes"`
	Failures  int64         `json:"failures"`
	Min       time.Duration `json:"-"`
	Max       time.Duration `json:"-"`
	Mean      time.Duration `json:"-"`
	P50       time.Duration `json:"-"`
	P90       time.Duration `json:"-"`
	P95       time.Duration `json:"-"`
	P99       time.Duration `json:"-"`
	Duration  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinMs      float64 `json:"min_ms"`
	MaxMs      float64 `json:"max_ms"`
	MeanMs     float64 `json:"mean_ms"`
	P50Ms      float64 `json:"p50_ms"`
	P90Ms      float64 `json:"p90_ms"`
	P95Ms      float64 `json:"p95_ms"`
	P99Ms      float64 `json:"p99_ms"`
	DurationMs float64 `json:"duration_ms"`

	Stages []StageTiming `json:"stages,omitempty"`
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	// Track sample durations from 1ms up to 1h with 3 significant figures.
	h := hdrhistogram.New(1, 3_600_000, 3)
	return &Collector{
		hist:  h,
		start: time.Now(),
	}
}

// Start marks the beginning of the measured run. Reporters created
// before the run began read elapsed time from here.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// Started returns when the run began.
func (c *Collector) Started() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start
}

// SetStage publishes the pipeline stage currently executing.
func (c *Collector) SetStage(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentStage = stage
}

// CurrentStage returns the pipeline stage currently executing.
func (c *Collector) CurrentStage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentStage
}

// RecordStage records one executed pipeline stage.
func (c *Collector) RecordStage(stage string, d time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, StageTiming{
		Stage:    stage,
		Duration: d,
		Ms:       float64(d) / float64(time.Millisecond),
		Failed:   failed,
	})
}

// RecordSample records one benchmark sample's wall time and outcome.
func (c *Collector) RecordSample(d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d > 0 {
		ms := d.Milliseconds()
		if ms < c.hist.LowestTrackableValue() {
			ms = c.hist.LowestTrackableValue()
		}
		if ms > c.hist.HighestTrackableValue() {
			ms = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(ms)
	}
	c.sumDuration += d

	if c.minDuration == 0 || d < c.minDuration {
		c.minDuration = d
	}
	if d > c.maxDuration {
		c.maxDuration = d
	}

	if err == nil {
		c.successes++
	} else {
		c.failures++
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Samples:   total,
		Successes: c.successes,
		Failures:  c.failures,
		Min:       c.minDuration,
		Max:       c.maxDuration,
	}

	if total > 0 {
		stats.Mean = time.Duration(int64(c.sumDuration) / total)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50 = time.Duration(c.hist.ValueAtQuantile(50)) * time.Millisecond
		stats.P90 = time.Duration(c.hist.ValueAtQuantile(90)) * time.Millisecond
		stats.P95 = time.Duration(c.hist.ValueAtQuantile(95)) * time.Millisecond
		stats.P99 = time.Duration(c.hist.ValueAtQuantile(99)) * time.Millisecond
	}

	stats.MinMs = float64(stats.Min) / float64(time.Millisecond)
	stats.MaxMs = float64(stats.Max) / float64(time.Millisecond)
	stats.MeanMs = float64(stats.Mean) / float64(time.Millisecond)
	stats.P50Ms = float64(stats.P50) / float64(time.Millisecond)
	stats.P90Ms = float64(stats.P90) / float64(time.Millisecond)
	stats.P95Ms = float64(stats.P95) / float64(time.Millisecond)
	stats.P99Ms = float64(stats.P99) / float64(time.Millisecond)

	stats.Duration = elapsed
	stats.DurationMs = float64(elapsed) / float64(time.Millisecond)

	stats.Stages = append([]StageTiming(nil), c.stages...)

	return stats
}
