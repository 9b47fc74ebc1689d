// Package analysis turns per-track motion state into behavioral
// interpretation: rule-based action labels, fall detection with hysteresis,
// pairwise fight detection, and an edge-triggered event log.
package analysis

import (
	"github.com/sentinelcam/sentinel/pkg/geom"
	"github.com/sentinelcam/sentinel/server/track"
)

type Action string

const (
	ActionStanding  Action = "standing"
	ActionWalking   Action = "walking"
	ActionRunning   Action = "running"
	ActionLoitering Action = "loitering"
	ActionFallen    Action = "fallen"
)

// Snapshot is one track's view of the current frame, threaded through all
// analysis stages so that each stage sees the same inputs.
type Snapshot struct {
	TrackID    int64
	Box        geom.Rect
	Confidence float32 // detection confidence from the upstream tracker
	Velocity   float32 // px/frame, computed once per frame by the orchestrator
	State      *track.State

	// Filled in by the classifier stage
	Action           Action
	ActionConfidence float32
}
