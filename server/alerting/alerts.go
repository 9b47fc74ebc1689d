// Package alerting is the rule layer over the analysis outputs: it raises
// severity-ranked alerts for falls, fights, loitering and crowding, with a
// per-type deduplication window and pluggable delivery callbacks.
package alerting

import (
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/sentinelcam/sentinel/server/analysis"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	TypeFall      = "fall_detected"
	TypeFight     = "fight_detected"
	TypeLoitering = "prolonged_loitering"
	TypeCrowd     = "crowd_detected"
)

// Alert is an immutable record of one raised condition.
// Only the Acknowledged flag may change after creation.
type Alert struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	FrameID      int64          `json:"frameId"`
	TrackIDs     []int64        `json:"trackIds"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Acknowledged bool           `json:"acknowledged"`
	Metadata     map[string]any `json:"metadata"`
}

// Callback receives every new alert of the type it was registered for.
// Failures are logged, never propagated to the frame loop.
type Callback func(alert *Alert) error

type Config struct {
	// Seconds before another alert of the same type may fire
	DedupWindowSeconds float64 `json:"dedupWindowSeconds"`
	// Stationary frames before a track raises a loitering alert
	LoiteringFrames int `json:"loiteringFrames"`
	// Tracks in frame before a crowd alert
	CrowdSize int `json:"crowdSize"`
	// Optional webhook delivery target
	Webhook WebhookConfig `json:"webhook"`
}

func DefaultConfig() Config {
	return Config{
		DedupWindowSeconds: 30,
		LoiteringFrames:    900,
		CrowdSize:          10,
		Webhook:            DefaultWebhookConfig(),
	}
}

func (c Config) Validate() error {
	if c.DedupWindowSeconds < 0 {
		return fmt.Errorf("alerting: dedupWindowSeconds %v must not be negative", c.DedupWindowSeconds)
	}
	if c.LoiteringFrames <= 0 {
		return fmt.Errorf("alerting: loiteringFrames %v must be positive", c.LoiteringFrames)
	}
	if c.CrowdSize <= 0 {
		return fmt.Errorf("alerting: crowdSize %v must be positive", c.CrowdSize)
	}
	return c.Webhook.Validate()
}

// Engine evaluates the alert rules once per frame.
// One engine per camera. Not safe for concurrent use.
type Engine struct {
	log       logs.Log
	cfg       Config
	fps       float64
	alerts    []*Alert
	byID      map[string]*Alert
	callbacks map[string][]Callback
	lastFired map[string]time.Time

	// Overridable for tests
	timeNow func() time.Time
}

func NewEngine(log logs.Log, cfg Config, fps float64) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, fmt.Errorf("alerting: fps %v must be positive", fps)
	}
	return &Engine{
		log:       log,
		cfg:       cfg,
		fps:       fps,
		byID:      map[string]*Alert{},
		callbacks: map[string][]Callback{},
		lastFired: map[string]time.Time{},
		timeNow:   time.Now,
	}, nil
}

// RegisterCallback subscribes a delivery callback to one alert type
func (e *Engine) RegisterCallback(alertType string, cb Callback) {
	e.callbacks[alertType] = append(e.callbacks[alertType], cb)
}

// CheckAlerts evaluates the four alert rules against this frame's outputs,
// and returns the alerts that were actually raised (post-deduplication).
func (e *Engine) CheckAlerts(frameID int64, snapshots []*analysis.Snapshot, events []*analysis.Event, fights []analysis.FightEvent) []*Alert {
	raised := []*Alert{}
	add := func(a *Alert) {
		if a != nil {
			raised = append(raised, a)
		}
	}

	for _, ev := range events {
		if ev.Action == analysis.ActionFallen {
			add(e.create(TypeFall, SeverityCritical, frameID, []int64{ev.TrackID},
				fmt.Sprintf("Person fallen detected - Track #%v", ev.TrackID),
				map[string]any{
					"confidence": float64(ev.Confidence),
				}))
		}
	}

	for _, fight := range fights {
		add(e.create(TypeFight, SeverityHigh, frameID, fight.Participants[:],
			fmt.Sprintf("Fight detected between tracks %v and %v", fight.Participants[0], fight.Participants[1]),
			map[string]any{
				"confidence":     float64(fight.Confidence),
				"iou":            float64(fight.IOU),
				"durationFrames": float64(fight.DurationFrames),
			}))
	}

	for _, snap := range snapshots {
		if snap.State != nil && snap.State.StationaryFrames > e.cfg.LoiteringFrames {
			seconds := float64(snap.State.StationaryFrames) / e.fps
			add(e.create(TypeLoitering, SeverityMedium, frameID, []int64{snap.TrackID},
				fmt.Sprintf("Prolonged loitering detected - Track #%v (%.1fs)", snap.TrackID, seconds),
				map[string]any{
					"durationSeconds": seconds,
				}))
		}
	}

	if len(snapshots) > e.cfg.CrowdSize {
		ids := make([]int64, len(snapshots))
		for i, snap := range snapshots {
			ids[i] = snap.TrackID
		}
		add(e.create(TypeCrowd, SeverityMedium, frameID, ids,
			fmt.Sprintf("High crowd density detected - %v people in frame", len(snapshots)),
			map[string]any{
				"crowdSize": float64(len(snapshots)),
			}))
	}

	return raised
}

func (e *Engine) create(alertType string, severity Severity, frameID int64, trackIDs []int64, message string, metadata map[string]any) *Alert {
	if e.suppressed(alertType) {
		return nil
	}
	alert := &Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		FrameID:   frameID,
		TrackIDs:  append([]int64{}, trackIDs...),
		Message:   message,
		Timestamp: e.timeNow(),
		Metadata:  metadata,
	}
	e.alerts = append(e.alerts, alert)
	e.byID[alert.ID] = alert
	e.lastFired[alertType] = e.timeNow()

	for _, cb := range e.callbacks[alertType] {
		e.dispatch(cb, alert)
	}

	e.log.Infof("ALERT [%v]: %v", alert.Severity, alert.Message)
	return alert
}

// A panicking or failing callback must never abort alert creation or the
// callbacks after it
func (e *Engine) dispatch(cb Callback, alert *Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("Alert callback panic for %v: %v", alert.Type, r)
		}
	}()
	if err := cb(alert); err != nil {
		e.log.Errorf("Alert callback error for %v: %v", alert.Type, err)
	}
}

func (e *Engine) suppressed(alertType string) bool {
	last, ok := e.lastFired[alertType]
	if !ok {
		return false
	}
	return e.timeNow().Sub(last).Seconds() < e.cfg.DedupWindowSeconds
}

// Acknowledge marks an alert as seen by an operator.
// Returns false if the id is unknown.
func (e *Engine) Acknowledge(id string) bool {
	alert, ok := e.byID[id]
	if !ok {
		return false
	}
	alert.Acknowledged = true
	return true
}

type Filter struct {
	Severity     Severity // empty means all
	Type         string   // empty means all
	Acknowledged *bool    // nil means all
}

func (e *Engine) Alerts(f Filter) []*Alert {
	out := []*Alert{}
	for _, a := range e.alerts {
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	return out
}

type Summary struct {
	TotalAlerts    int              `json:"totalAlerts"`
	BySeverity     map[Severity]int `json:"bySeverity"`
	ByType         map[string]int   `json:"byType"`
	Unacknowledged int              `json:"unacknowledged"`
}

func (e *Engine) Summary() Summary {
	s := Summary{
		TotalAlerts: len(e.alerts),
		BySeverity: map[Severity]int{
			SeverityLow:      0,
			SeverityMedium:   0,
			SeverityHigh:     0,
			SeverityCritical: 0,
		},
		ByType: map[string]int{},
	}
	for _, a := range e.alerts {
		s.BySeverity[a.Severity]++
		s.ByType[a.Type]++
		if !a.Acknowledged {
			s.Unacknowledged++
		}
	}
	return s
}

// Export is the wire shape of the alerts JSON artifact
type Export struct {
	Summary Summary  `json:"summary"`
	Alerts  []*Alert `json:"alerts"`
}

func (e *Engine) Export() Export {
	alerts := e.alerts
	if alerts == nil {
		alerts = []*Alert{}
	}
	return Export{
		Summary: e.Summary(),
		Alerts:  alerts,
	}
}

func (e *Engine) Reset() {
	e.alerts = nil
	e.byID = map[string]*Alert{}
	e.lastFired = map[string]time.Time{}
}
