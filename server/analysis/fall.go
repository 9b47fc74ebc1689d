package analysis

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/gen"
	"github.com/sentinelcam/sentinel/server/track"
)

const (
	minFallHistory = 5
	// Confidence above which a track is flagged fallen
	fallEnterConfidence = 0.6
	// Once fallen, the flag holds until confidence drops below this.
	// Asymmetric thresholds stop the flag flickering on noisy frames.
	fallExitConfidence = 0.3
)

type FallConfig struct {
	// Width/height ratio above which a box reads as lying down.
	// Score scales linearly to 1.0 at AspectRatio + 0.4.
	AspectRatio float32 `json:"aspectRatio"`
	// Mean downward centroid speed (px/frame) that reads as rapid descent.
	// Score scales to 1.0 at 30 px/frame.
	VerticalVelocity float32 `json:"verticalVelocity"`
	// Box bottom edge as a fraction of frame height above which the entity
	// reads as on the ground. Score scales to 1.0 at the frame bottom.
	GroundProximity float32 `json:"groundProximity"`
	// Stationary frames for a full post-fall stillness score
	StationaryFrames int `json:"stationaryFrames"`
}

func DefaultFallConfig() FallConfig {
	return FallConfig{
		AspectRatio:      0.8,
		VerticalVelocity: 20,
		GroundProximity:  0.8,
		StationaryFrames: 150,
	}
}

func (c FallConfig) Validate() error {
	if c.AspectRatio <= 0 {
		return fmt.Errorf("fall: aspectRatio %v must be positive", c.AspectRatio)
	}
	if c.VerticalVelocity <= 0 {
		return fmt.Errorf("fall: verticalVelocity %v must be positive", c.VerticalVelocity)
	}
	if c.GroundProximity <= 0 || c.GroundProximity >= 1 {
		return fmt.Errorf("fall: groundProximity %v must be inside (0,1)", c.GroundProximity)
	}
	if c.StationaryFrames <= 0 {
		return fmt.Errorf("fall: stationaryFrames %v must be positive", c.StationaryFrames)
	}
	return nil
}

// FallDetector scores each track on four signals (orientation, vertical
// speed, ground proximity, post-event stillness) and flags it fallen when
// the combined confidence crosses a threshold, with hysteresis on recovery.
type FallDetector struct {
	log    logs.Log
	cfg    FallConfig
	fallen map[int64]bool // tracks currently flagged fallen
}

func NewFallDetector(log logs.Log, cfg FallConfig) (*FallDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FallDetector{
		log:    log,
		cfg:    cfg,
		fallen: map[int64]bool{},
	}, nil
}

// Detect returns whether the track is fallen, and the confidence [0,1].
// Tracks with fewer than 5 history samples always report (false, 0).
func (d *FallDetector) Detect(t *track.State, frameHeight int) (bool, float32) {
	if t.History.Len() < minFallHistory {
		return false, 0
	}
	sample, ok := t.MostRecent()
	if !ok {
		return false, 0
	}
	box := sample.Box

	orientation := d.scoreAspectRatio(box.Width(), box.Height())
	vertical := d.scoreVerticalVelocity(t)
	ground := d.scoreGroundProximity(box.Y2, float32(frameHeight))
	stillness := gen.Min(float32(t.StationaryFrames)/float32(d.cfg.StationaryFrames), 1)

	lyingDown := 0.5*orientation + 0.3*ground + 0.2*stillness
	rapidDescent := 0.5*vertical + 0.3*stillness + 0.2*ground
	confidence := gen.Max(lyingDown, rapidDescent)

	isFallen := confidence > fallEnterConfidence
	if isFallen {
		d.fallen[t.ID] = true
	} else if d.fallen[t.ID] {
		if confidence < fallExitConfidence {
			delete(d.fallen, t.ID)
			d.log.Infof("Track %v recovered (confidence %.2f)", t.ID, confidence)
		} else {
			isFallen = true
		}
	}
	return isFallen, confidence
}

// IsFallen reports whether the track is currently flagged fallen
func (d *FallDetector) IsFallen(trackID int64) bool {
	return d.fallen[trackID]
}

func (d *FallDetector) Reset() {
	d.fallen = map[int64]bool{}
}

// A standing person is roughly 0.4-0.6 wide per unit height, sitting 0.6-0.8,
// lying down above 1.0.
func (d *FallDetector) scoreAspectRatio(width, height float32) float32 {
	if height <= 0 {
		return 0
	}
	aspect := width / height
	if aspect < d.cfg.AspectRatio {
		return 0
	}
	return gen.Min((aspect-d.cfg.AspectRatio)/0.4, 1)
}

// Mean downward centroid movement over the last 5 samples.
// Positive is downward in pixel space.
func (d *FallDetector) scoreVerticalVelocity(t *track.State) float32 {
	n := t.History.Len()
	first := gen.Max(0, n-5)
	if n-first < 2 {
		return 0
	}
	sum := float32(0)
	for i := first + 1; i < n; i++ {
		sum += t.History.Peek(i).Center.Y - t.History.Peek(i-1).Center.Y
	}
	mean := sum / float32(n-first-1)
	if mean <= d.cfg.VerticalVelocity {
		return 0
	}
	return gen.Min(mean/30.0, 1)
}

func (d *FallDetector) scoreGroundProximity(bottom, frameHeight float32) float32 {
	if frameHeight <= 0 {
		return 0
	}
	position := bottom / frameHeight
	if position < d.cfg.GroundProximity {
		return 0
	}
	return gen.Min((position-d.cfg.GroundProximity)/(1-d.cfg.GroundProximity), 1)
}
