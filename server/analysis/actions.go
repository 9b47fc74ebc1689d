package analysis

import (
	"fmt"

	"github.com/cyclopcam/logs"
)

type ClassifierConfig struct {
	StationaryVelocity float32 `json:"stationaryVelocity"` // px/frame, below this a frame counts as stationary
	WalkingVelocity    float32 `json:"walkingVelocity"`    // px/frame
	RunningVelocity    float32 `json:"runningVelocity"`    // px/frame
	LoiteringFrames    int     `json:"loiteringFrames"`    // consecutive stationary frames before loitering
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		StationaryVelocity: 2,
		WalkingVelocity:    3,
		RunningVelocity:    12,
		LoiteringFrames:    90,
	}
}

func (c ClassifierConfig) Validate() error {
	if c.StationaryVelocity <= 0 {
		return fmt.Errorf("classifier: stationaryVelocity %v must be positive", c.StationaryVelocity)
	}
	if c.WalkingVelocity < c.StationaryVelocity {
		return fmt.Errorf("classifier: walkingVelocity %v is below stationaryVelocity %v", c.WalkingVelocity, c.StationaryVelocity)
	}
	if c.RunningVelocity <= c.WalkingVelocity {
		return fmt.Errorf("classifier: runningVelocity %v must exceed walkingVelocity %v", c.RunningVelocity, c.WalkingVelocity)
	}
	if c.LoiteringFrames <= 0 {
		return fmt.Errorf("classifier: loiteringFrames %v must be positive", c.LoiteringFrames)
	}
	return nil
}

// Classifier assigns one action label per track per frame, by priority-ordered
// rules over velocity and stationary duration. A configured fall detector
// always preempts the movement labels.
type Classifier struct {
	log   logs.Log
	cfg   ClassifierConfig
	falls *FallDetector // optional
}

func NewClassifier(log logs.Log, cfg ClassifierConfig, falls *FallDetector) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		log:   log,
		cfg:   cfg,
		falls: falls,
	}, nil
}

// Classify evaluates the rules in strict priority order and returns the first
// match. As a side effect it advances the track's stationary frame counter,
// so call it exactly once per track per frame.
func (c *Classifier) Classify(snap *Snapshot, frameHeight int) (Action, float32) {
	state := snap.State

	if snap.Velocity < c.cfg.StationaryVelocity {
		state.StationaryFrames++
	} else {
		state.StationaryFrames = 0
	}

	if c.falls != nil {
		if fallen, confidence := c.falls.Detect(state, frameHeight); fallen {
			return ActionFallen, confidence
		}
	}

	if state.StationaryFrames > c.cfg.LoiteringFrames {
		return ActionLoitering, 0.95
	}

	switch {
	case snap.Velocity >= c.cfg.RunningVelocity:
		return ActionRunning, 0.85
	case snap.Velocity >= c.cfg.WalkingVelocity:
		return ActionWalking, 0.80
	default:
		return ActionStanding, 0.75
	}
}
