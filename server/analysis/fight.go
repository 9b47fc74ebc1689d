package analysis

import (
	"fmt"
	"sort"

	"github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/gen"
)

// Pair states that go this many frames without being scored are purged
const fightEvictionGapFrames = 30

type FightConfig struct {
	// IoU at which the proximity score saturates at 1.0
	ProximityIOU float32 `json:"proximityIOU"`
	// Velocity (px/frame) of at least one participant before the pair
	// counts as moving rapidly
	RapidMovement float32 `json:"rapidMovement"`
	// Frames of sustained interaction for a full duration score
	MinDurationFrames int `json:"minDurationFrames"`
	// Minimum tracks present in the frame before we scan pairs
	MinParticipants int `json:"minParticipants"`
}

func DefaultFightConfig() FightConfig {
	return FightConfig{
		ProximityIOU:      0.3,
		RapidMovement:     15,
		MinDurationFrames: 60,
		MinParticipants:   2,
	}
}

func (c FightConfig) Validate() error {
	if c.ProximityIOU <= 0 || c.ProximityIOU > 1 {
		return fmt.Errorf("fight: proximityIOU %v must be inside (0,1]", c.ProximityIOU)
	}
	if c.RapidMovement <= 0 {
		return fmt.Errorf("fight: rapidMovement %v must be positive", c.RapidMovement)
	}
	if c.MinDurationFrames <= 0 {
		return fmt.Errorf("fight: minDurationFrames %v must be positive", c.MinDurationFrames)
	}
	if c.MinParticipants < 2 {
		return fmt.Errorf("fight: minParticipants %v must be at least 2", c.MinParticipants)
	}
	return nil
}

// FightEvent is one qualifying pairwise interaction in one frame
type FightEvent struct {
	FrameID        int64      `json:"frameId"`
	Participants   [2]int64   `json:"participants"` // track ids, low id first
	Confidence     float32    `json:"confidence"`
	IOU            float32    `json:"iou"`
	Velocities     [2]float32 `json:"velocities"`
	DurationFrames int64      `json:"durationFrames"`
}

// Per-pair interaction state, keyed by the canonical (low id, high id) pair
type fightPairState struct {
	startFrame    int64
	lastFrame     int64
	maxConfidence float32
}

// FightDetector scores every close pair of tracks in a frame on proximity,
// rapid movement and sustained duration. Pair state persists across frames
// and is evicted after a bounded gap without re-qualification.
// One detector per camera. Not safe for concurrent use.
type FightDetector struct {
	log   logs.Log
	cfg   FightConfig
	pairs map[uint64]*fightPairState

	searchScratch []int // reused across frames
}

func NewFightDetector(log logs.Log, cfg FightConfig) (*FightDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FightDetector{
		log:   log,
		cfg:   cfg,
		pairs: map[uint64]*fightPairState{},
	}, nil
}

// pairKey canonicalizes an unordered track id pair, so that scoring is
// symmetric in iteration order. Track ids fit comfortably in 32 bits.
func pairKey(a, b int64) uint64 {
	if a > b {
		a, b = b, a
	}
	return (uint64(uint32(a)) << 32) | uint64(uint32(b))
}

// ScanPairs scores candidate pairs among the tracks present in this frame and
// returns the interactions that qualify as fights. Call once per frame; the
// end of each call purges stale pair state.
func (d *FightDetector) ScanPairs(snapshots []*Snapshot, frameID int64) []FightEvent {
	if len(snapshots) < d.cfg.MinParticipants {
		d.evictStale(frameID)
		return nil
	}

	// Spatial index over the current boxes. Pairs that don't overlap can
	// neither create pair state (proximity 0) nor reach the reporting
	// threshold, so we only score overlapping candidates, plus pairs that
	// already carry state.
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(snapshots))
	for _, s := range snapshots {
		fb.Add(s.Box.X1, s.Box.Y1, s.Box.X2, s.Box.Y2)
	}
	fb.Finish()

	byID := make(map[int64]*Snapshot, len(snapshots))
	for _, s := range snapshots {
		byID[s.TrackID] = s
	}

	candidates := map[uint64][2]*Snapshot{}
	for i, s := range snapshots {
		d.searchScratch = fb.SearchFast(s.Box.X1, s.Box.Y1, s.Box.X2, s.Box.Y2, d.searchScratch)
		for _, j := range d.searchScratch {
			if j == i {
				continue
			}
			other := snapshots[j]
			candidates[pairKey(s.TrackID, other.TrackID)] = orderPair(s, other)
		}
	}
	for key := range d.pairs {
		a := byID[int64(key>>32)]
		b := byID[int64(uint32(key))]
		if a != nil && b != nil {
			candidates[key] = [2]*Snapshot{a, b}
		}
	}

	events := []FightEvent{}
	for key, pair := range candidates {
		if ev, ok := d.scorePair(key, pair[0], pair[1], frameID); ok {
			events = append(events, ev)
		}
	}
	// Map iteration order is random, so order the report by participant ids
	sort.Slice(events, func(i, j int) bool {
		if events[i].Participants[0] != events[j].Participants[0] {
			return events[i].Participants[0] < events[j].Participants[0]
		}
		return events[i].Participants[1] < events[j].Participants[1]
	})

	d.evictStale(frameID)
	return events
}

func orderPair(a, b *Snapshot) [2]*Snapshot {
	if a.TrackID > b.TrackID {
		a, b = b, a
	}
	return [2]*Snapshot{a, b}
}

func (d *FightDetector) scorePair(key uint64, a, b *Snapshot, frameID int64) (FightEvent, bool) {
	iou := a.Box.IOU(b.Box)
	proximity := float32(0)
	if iou > 0 {
		proximity = gen.Min(iou/d.cfg.ProximityIOU, 1)
	}

	movement := float32(0)
	if a.Velocity >= d.cfg.RapidMovement || b.Velocity >= d.cfg.RapidMovement {
		movement = gen.Min((a.Velocity+b.Velocity)/2/d.cfg.RapidMovement, 1)
	}

	duration := float32(0)
	state := d.pairs[key]
	if state == nil {
		if proximity > 0.5 && movement > 0.5 {
			d.pairs[key] = &fightPairState{
				startFrame:    frameID,
				lastFrame:     frameID,
				maxConfidence: proximity * movement,
			}
		}
	} else {
		state.lastFrame = frameID
		duration = gen.Min(float32(frameID-state.startFrame)/float32(d.cfg.MinDurationFrames), 1)
		state.maxConfidence = gen.Max(state.maxConfidence, proximity*movement)
	}

	confidence := 0.4*proximity + 0.4*movement + 0.2*duration
	if confidence > 0.6 && duration > 0 {
		return FightEvent{
			FrameID:        frameID,
			Participants:   [2]int64{a.TrackID, b.TrackID},
			Confidence:     confidence,
			IOU:            iou,
			Velocities:     [2]float32{a.Velocity, b.Velocity},
			DurationFrames: frameID - state.startFrame,
		}, true
	}
	return FightEvent{}, false
}

func (d *FightDetector) evictStale(frameID int64) {
	for key, state := range d.pairs {
		if frameID-state.lastFrame > fightEvictionGapFrames {
			delete(d.pairs, key)
		}
	}
}

func (d *FightDetector) NumPairs() int {
	return len(d.pairs)
}

func (d *FightDetector) Reset() {
	d.pairs = map[uint64]*fightPairState{}
}
