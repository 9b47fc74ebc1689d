// Package perf measures how long the named stages of a processing loop take.
package perf

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentinelcam/sentinel/pkg/stats"
)

// Monitor accumulates duration samples for named stages.
// Safe for concurrent use.
type Monitor struct {
	lock    sync.Mutex
	stages  map[string][]float64 // milliseconds
	started time.Time
	frames  int64
}

func NewMonitor() *Monitor {
	return &Monitor{
		stages:  map[string][]float64{},
		started: time.Now(),
	}
}

// Measure starts a timer for the named stage. Call the returned function
// to stop the timer and record the sample, typically via defer.
func (m *Monitor) Measure(stage string) func() {
	start := time.Now()
	return func() {
		m.AddSample(stage, time.Since(start))
	}
}

func (m *Monitor) AddSample(stage string, elapsed time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.stages[stage] = append(m.stages[stage], float64(elapsed)/float64(time.Millisecond))
}

// FrameDone increments the frame counter used for the FPS figure.
func (m *Monitor) FrameDone() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.frames++
}

func (m *Monitor) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.stages = map[string][]float64{}
	m.started = time.Now()
	m.frames = 0
}

type StageStats struct {
	Count    int     `json:"count"`
	MeanMS   float64 `json:"meanMS"`
	MedianMS float64 `json:"medianMS"`
	P95MS    float64 `json:"p95MS"`
	P99MS    float64 `json:"p99MS"`
	MinMS    float64 `json:"minMS"`
	MaxMS    float64 `json:"maxMS"`
}

type Report struct {
	Stages         map[string]StageStats `json:"stages"`
	Frames         int64                 `json:"frames"`
	ElapsedSeconds float64               `json:"elapsedSeconds"`
	FPS            float64               `json:"fps"`
}

func (m *Monitor) Report() Report {
	m.lock.Lock()
	defer m.lock.Unlock()
	r := Report{
		Stages:         map[string]StageStats{},
		Frames:         m.frames,
		ElapsedSeconds: time.Since(m.started).Seconds(),
	}
	if r.ElapsedSeconds > 0 {
		r.FPS = float64(m.frames) / r.ElapsedSeconds
	}
	for name, samples := range m.stages {
		s := StageStats{
			Count:    len(samples),
			MeanMS:   stats.Mean(samples),
			MedianMS: stats.Median(samples),
			P95MS:    stats.Percentile(samples, 95),
			P99MS:    stats.Percentile(samples, 99),
		}
		s.MinMS = samples[0]
		s.MaxMS = samples[0]
		for _, v := range samples[1:] {
			s.MinMS = min(s.MinMS, v)
			s.MaxMS = max(s.MaxMS, v)
		}
		r.Stages[name] = s
	}
	return r
}

// String renders the report as a fixed-width table, one stage per line.
func (r Report) String() string {
	names := make([]string, 0, len(r.Stages))
	for name := range r.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	b := strings.Builder{}
	fmt.Fprintf(&b, "%-20s %8s %8s %8s %8s %8s\n", "stage", "count", "mean", "median", "p95", "max")
	for _, name := range names {
		s := r.Stages[name]
		fmt.Fprintf(&b, "%-20s %8d %7.2fms %7.2fms %7.2fms %7.2fms\n",
			name, s.Count, s.MeanMS, s.MedianMS, s.P95MS, s.MaxMS)
	}
	fmt.Fprintf(&b, "%d frames in %.1fs (%.1f fps)\n", r.Frames, r.ElapsedSeconds, r.FPS)
	return b.String()
}
