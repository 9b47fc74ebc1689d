package analysis

import (
	"fmt"

	"github.com/cyclopcam/logs"
)

// Event records one action transition of one track. Immutable once created.
type Event struct {
	FrameID     int64         `json:"frameId"`
	TimeSeconds float64       `json:"timeSeconds"`
	TrackID     int64         `json:"trackId"`
	Bbox        [4]float32    `json:"bbox"`
	Action      Action        `json:"action"`
	Confidence  float32       `json:"confidence"`
	Metadata    EventMetadata `json:"metadata"`
}

type EventMetadata struct {
	Velocity            float32 `json:"velocity"` // px/frame at emission time
	StationaryFrames    int     `json:"stationaryFrames"`
	BboxArea            float32 `json:"bboxArea"` // px²
	TrackDurationFrames int64   `json:"trackDurationFrames"` // first to last sighting
	DetectionConfidence float32 `json:"detectionConfidence"` // from the upstream tracker
}

type EventSummary struct {
	TotalEvents        int64              `json:"totalEvents"`
	UniqueTracks       int                `json:"uniqueTracks"`
	ActionCounts       map[Action]int64   `json:"actionCounts"`
	ActionDistribution map[Action]float64 `json:"actionDistribution"`
}

// EventLog is an edge-triggered recorder: it emits an event only when a
// track's action differs from the last action recorded for that track.
// One log per processing run. Not safe for concurrent use.
type EventLog struct {
	log          logs.Log
	fps          float64
	events       []*Event
	lastAction   map[int64]Action
	actionCounts map[Action]int64
}

func NewEventLog(log logs.Log, fps float64) (*EventLog, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("eventlog: fps %v must be positive", fps)
	}
	return &EventLog{
		log:          log,
		fps:          fps,
		lastAction:   map[int64]Action{},
		actionCounts: map[Action]int64{},
	}, nil
}

// RecordIfChanged emits an event if the track's action differs from the last
// one recorded for it, and returns nil otherwise.
func (l *EventLog) RecordIfChanged(frameID int64, snap *Snapshot, action Action, confidence float32) *Event {
	if last, ok := l.lastAction[snap.TrackID]; ok && last == action {
		return nil
	}
	l.lastAction[snap.TrackID] = action
	l.actionCounts[action]++

	ev := &Event{
		FrameID:     frameID,
		TimeSeconds: float64(frameID) / l.fps,
		TrackID:     snap.TrackID,
		Bbox:        snap.Box.Array(),
		Action:      action,
		Confidence:  confidence,
		Metadata: EventMetadata{
			Velocity:            snap.Velocity,
			StationaryFrames:    snap.State.StationaryFrames,
			BboxArea:            snap.Box.Area(),
			TrackDurationFrames: snap.State.DurationFrames(),
			DetectionConfidence: snap.Confidence,
		},
	}
	l.events = append(l.events, ev)
	return ev
}

func (l *EventLog) Events() []*Event {
	return l.events
}

type EventFilter struct {
	Actions      []Action // empty means all
	TrackIDs     []int64  // empty means all
	MinTimeSec   float64
	MaxTimeSec   float64 // zero means unbounded
	HasTimeRange bool
}

func (l *EventLog) Filter(f EventFilter) []*Event {
	actions := map[Action]bool{}
	for _, a := range f.Actions {
		actions[a] = true
	}
	tracks := map[int64]bool{}
	for _, id := range f.TrackIDs {
		tracks[id] = true
	}
	out := []*Event{}
	for _, ev := range l.events {
		if len(actions) != 0 && !actions[ev.Action] {
			continue
		}
		if len(tracks) != 0 && !tracks[ev.TrackID] {
			continue
		}
		if f.HasTimeRange && (ev.TimeSeconds < f.MinTimeSec || ev.TimeSeconds > f.MaxTimeSec) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (l *EventLog) Summary() EventSummary {
	uniqueTracks := map[int64]bool{}
	for _, ev := range l.events {
		uniqueTracks[ev.TrackID] = true
	}
	s := EventSummary{
		TotalEvents:        int64(len(l.events)),
		UniqueTracks:       len(uniqueTracks),
		ActionCounts:       map[Action]int64{},
		ActionDistribution: map[Action]float64{},
	}
	for action, count := range l.actionCounts {
		s.ActionCounts[action] = count
		if s.TotalEvents > 0 {
			s.ActionDistribution[action] = float64(count) / float64(s.TotalEvents)
		} else {
			s.ActionDistribution[action] = 0
		}
	}
	return s
}
