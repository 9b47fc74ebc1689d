// Package pipeline sequences the per-frame analysis stages: track state
// update, action classification, event logging, fight detection, alerting
// and heatmap accumulation, with per-stage timing and an aggregate report.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/geom"
	"github.com/sentinelcam/sentinel/pkg/perf"
	"github.com/sentinelcam/sentinel/server/alerting"
	"github.com/sentinelcam/sentinel/server/analysis"
	"github.com/sentinelcam/sentinel/server/heatmap"
	"github.com/sentinelcam/sentinel/server/track"
)

// TrackedBox is one record from the upstream detector+tracker
type TrackedBox struct {
	TrackID    int64     `json:"trackId"`
	Box        geom.Rect `json:"box"`
	Confidence float32   `json:"confidence"`
}

// Frame is one input unit of work. Image may be nil when the caller has
// already run detection and only wants analytics.
type Frame struct {
	ID    int64
	Image *cimg.Image
	Boxes []TrackedBox
}

// Tracker is the external detection+tracking stage. A Track error is fatal
// to the run.
type Tracker interface {
	Track(frame *Frame) ([]TrackedBox, error)
}

// BoxSource is a Tracker for callers that supply boxes with each frame
// (replay, tests, an out-of-process tracker feeding the API).
type BoxSource struct{}

func (BoxSource) Track(frame *Frame) ([]TrackedBox, error) {
	return frame.Boxes, nil
}

type Options struct {
	Width      int                       `json:"width"`
	Height     int                       `json:"height"`
	FPS        float64                   `json:"fps"`
	Track      track.Config              `json:"track"`
	Classifier analysis.ClassifierConfig `json:"classifier"`
	Fall       analysis.FallConfig       `json:"fall"`
	Fight      analysis.FightConfig      `json:"fight"`
	Heatmap    heatmap.Config            `json:"heatmap"`
	Alerts     alerting.Config           `json:"alerts"`
	Annotate   bool                      `json:"annotate"` // render annotated frames
}

func DefaultOptions(width, height int, fps float64) Options {
	return Options{
		Width:      width,
		Height:     height,
		FPS:        fps,
		Track:      track.DefaultConfig(),
		Classifier: analysis.DefaultClassifierConfig(),
		Fall:       analysis.DefaultFallConfig(),
		Fight:      analysis.DefaultFightConfig(),
		Heatmap:    heatmap.DefaultConfig(),
		Alerts:     alerting.DefaultConfig(),
	}
}

func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("pipeline: invalid frame size %vx%v", o.Width, o.Height)
	}
	if o.FPS <= 0 {
		return fmt.Errorf("pipeline: fps %v must be positive", o.FPS)
	}
	return nil
}

// FrameResult is everything the stages produced for one frame
type FrameResult struct {
	FrameID   int64
	Skipped   bool
	Snapshots []*analysis.Snapshot
	Events    []*analysis.Event
	Fights    []analysis.FightEvent
	Alerts    []*alerting.Alert
	Annotated *cimg.Image // nil unless Options.Annotate
}

// Report is the aggregate output of a completed run
type Report struct {
	Events  analysis.EventSummary `json:"events"`
	Alerts  alerting.Summary      `json:"alerts"`
	Heatmap heatmap.Stats         `json:"heatmap"`
	Timing  perf.Report           `json:"timing"`
	Frames  int64                 `json:"frames"`
	Skipped int64                 `json:"skipped"`
}

// Engine drives the full stage sequence for one stream. All per-camera
// state lives inside the engine, so concurrent cameras each get their own
// instance. One goroutine calls ProcessFrame; other goroutines may call
// Report, the export methods and Acknowledge concurrently. The component
// accessors (EventLog etc) bypass the lock and are for single-threaded use.
type Engine struct {
	log     logs.Log
	opts    Options
	tracker Tracker

	lock sync.Mutex // guards all state below during ProcessFrame and exports

	store      *track.Store
	falls      *analysis.FallDetector
	classifier *analysis.Classifier
	fights     *analysis.FightDetector
	eventLog   *analysis.EventLog
	heat       *heatmap.Accumulator
	alerts     *alerting.Engine
	webhook    *alerting.Webhook
	perf       *perf.Monitor

	frames  int64
	skipped int64
}

func NewEngine(log logs.Log, tracker Tracker, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, fmt.Errorf("pipeline: tracker is required")
	}
	store, err := track.NewStore(log, opts.Track)
	if err != nil {
		return nil, err
	}
	falls, err := analysis.NewFallDetector(log, opts.Fall)
	if err != nil {
		return nil, err
	}
	classifier, err := analysis.NewClassifier(log, opts.Classifier, falls)
	if err != nil {
		return nil, err
	}
	fights, err := analysis.NewFightDetector(log, opts.Fight)
	if err != nil {
		return nil, err
	}
	eventLog, err := analysis.NewEventLog(log, opts.FPS)
	if err != nil {
		return nil, err
	}
	heat, err := heatmap.NewAccumulator(log, opts.Width, opts.Height, opts.Heatmap)
	if err != nil {
		return nil, err
	}
	alerts, err := alerting.NewEngine(log, opts.Alerts, opts.FPS)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		log:        log,
		opts:       opts,
		tracker:    tracker,
		store:      store,
		falls:      falls,
		classifier: classifier,
		fights:     fights,
		eventLog:   eventLog,
		heat:       heat,
		alerts:     alerts,
		perf:       perf.NewMonitor(),
	}
	if opts.Alerts.Webhook.URL != "" {
		webhook, err := alerting.NewWebhook(log, opts.Alerts.Webhook)
		if err != nil {
			return nil, err
		}
		e.webhook = webhook
		for _, alertType := range []string{alerting.TypeFall, alerting.TypeFight, alerting.TypeLoitering, alerting.TypeCrowd} {
			alerts.RegisterCallback(alertType, webhook.Callback())
		}
	}
	return e, nil
}

// ProcessFrame runs all stages on one frame. An invalid frame is skipped
// with a warning. A tracker error is fatal to the run: the caller must
// Close the engine and mark the job failed.
func (e *Engine) ProcessFrame(frame *Frame) (*FrameResult, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.validFrame(frame) {
		e.skipped++
		var id int64 = -1
		if frame != nil {
			id = frame.ID
		}
		e.log.Warnf("Invalid frame %v, skipping", id)
		return &FrameResult{FrameID: id, Skipped: true}, nil
	}

	stopTotal := e.perf.Measure("total_per_frame")
	defer stopTotal()

	stopTracking := e.perf.Measure("tracking")
	boxes, err := e.tracker.Track(frame)
	stopTracking()
	if err != nil {
		return nil, fmt.Errorf("tracking failed at frame %v: %w", frame.ID, err)
	}

	result := &FrameResult{FrameID: frame.ID}

	stopUpdate := e.perf.Measure("track_update")
	result.Snapshots = make([]*analysis.Snapshot, 0, len(boxes))
	for _, b := range boxes {
		st := e.store.Update(b.TrackID, b.Box, frame.ID)
		result.Snapshots = append(result.Snapshots, &analysis.Snapshot{
			TrackID:    b.TrackID,
			Box:        b.Box,
			Confidence: b.Confidence,
			Velocity:   st.Velocity(e.opts.Track.VelocityWindow),
			State:      st,
		})
	}
	stopUpdate()

	stopHeat := e.perf.Measure("heatmap")
	for _, snap := range result.Snapshots {
		center := snap.Box.Center()
		e.heat.Add(center.X, center.Y)
	}
	stopHeat()

	stopClassify := e.perf.Measure("action_classification")
	for _, snap := range result.Snapshots {
		snap.Action, snap.ActionConfidence = e.classifier.Classify(snap, e.opts.Height)
		if ev := e.eventLog.RecordIfChanged(frame.ID, snap, snap.Action, snap.ActionConfidence); ev != nil {
			result.Events = append(result.Events, ev)
		}
	}
	stopClassify()

	stopFights := e.perf.Measure("fight_detection")
	result.Fights = e.fights.ScanPairs(result.Snapshots, frame.ID)
	stopFights()

	stopAlerts := e.perf.Measure("alert_generation")
	result.Alerts = e.alerts.CheckAlerts(frame.ID, result.Snapshots, result.Events, result.Fights)
	stopAlerts()

	if e.opts.Annotate && frame.Image != nil {
		// annotate assumes packed RGB at the configured resolution, so a
		// frame that disagrees would index out of bounds
		if frame.Image.Format != cimg.PixelFormatRGB || frame.Image.Width != e.opts.Width || frame.Image.Height != e.opts.Height {
			e.log.Warnf("Frame %v image is %vx%v format %v, expected %vx%v RGB. Skipping annotation.",
				frame.ID, frame.Image.Width, frame.Image.Height, frame.Image.Format, e.opts.Width, e.opts.Height)
		} else {
			stopAnnotate := e.perf.Measure("annotation")
			result.Annotated = e.annotate(frame.Image, result)
			stopAnnotate()
		}
	}

	e.perf.FrameDone()
	e.frames++
	return result, nil
}

func (e *Engine) validFrame(frame *Frame) bool {
	if frame == nil {
		return false
	}
	if frame.Image != nil && (frame.Image.Width <= 0 || frame.Image.Height <= 0 || len(frame.Image.Pixels) == 0) {
		return false
	}
	return true
}

// Report assembles the aggregate output of the run so far
func (e *Engine) Report() Report {
	e.lock.Lock()
	defer e.lock.Unlock()
	return Report{
		Events:  e.eventLog.Summary(),
		Alerts:  e.alerts.Summary(),
		Heatmap: e.heat.Stats(),
		Timing:  e.perf.Report(),
		Frames:  e.frames,
		Skipped: e.skipped,
	}
}

func (e *Engine) EventLog() *analysis.EventLog {
	return e.eventLog
}

func (e *Engine) Alerts() *alerting.Engine {
	return e.alerts
}

func (e *Engine) Heatmap() *heatmap.Accumulator {
	return e.heat
}

func (e *Engine) Perf() *perf.Monitor {
	return e.perf
}

func (e *Engine) NumTracks() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.store.NumTracks()
}

// HeatmapJPEG renders the current heatmap. Safe while the frame loop runs.
func (e *Engine) HeatmapJPEG(quality int) ([]byte, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.heat.RenderJPEG(quality)
}

// ExportEvents returns the events recorded so far, filtered.
// Safe while the frame loop runs.
func (e *Engine) ExportEvents(f analysis.EventFilter) []*analysis.Event {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.eventLog.Filter(f)
}

// ExportAlerts returns the alert summary plus all alerts.
// Safe while the frame loop runs.
func (e *Engine) ExportAlerts() alerting.Export {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.alerts.Export()
}

// AcknowledgeAlert marks an alert by its uuid. Safe while the frame loop runs.
func (e *Engine) AcknowledgeAlert(id string) bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.alerts.Acknowledge(id)
}

// Close releases delivery resources. Call when the run ends.
func (e *Engine) Close() {
	if e.webhook != nil {
		e.webhook.Close()
		e.webhook = nil
	}
}
