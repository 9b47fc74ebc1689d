// Package track owns per-track motion state: a bounded position history for
// every track identity reported by the upstream tracker, plus velocity and
// stationary-duration derivation over that history.
package track

import (
	"fmt"
	"math"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/geom"
)

type Config struct {
	// Number of position samples retained per track.
	// Rounded up to a power of 2 internally; the ring keeps one slot
	// unoccupied, so the effective capacity is nextPowerOf2(n)-1.
	HistorySize int `json:"historySize"`
	// Number of most recent samples used for the velocity estimate
	VelocityWindow int `json:"velocityWindow"`
}

func DefaultConfig() Config {
	return Config{
		HistorySize:    30,
		VelocityWindow: 10,
	}
}

func (c Config) Validate() error {
	if c.HistorySize < 2 {
		return fmt.Errorf("track: historySize %v is too small (need at least 2)", c.HistorySize)
	}
	if c.VelocityWindow < 2 {
		return fmt.Errorf("track: velocityWindow %v is too small (need at least 2)", c.VelocityWindow)
	}
	return nil
}

// One observed position of a track
type Sample struct {
	FrameID int64
	Box     geom.Rect
	Center  geom.Point
}

// State is the motion state of a single track identity
type State struct {
	ID               int64
	History          ringbuffer.RingP[Sample]
	StationaryFrames int   // consecutive frames below the stationary velocity threshold
	TotalFrames      int64 // total updates seen for this track
	FirstSeenFrame   int64
	LastSeenFrame    int64
}

func (t *State) MostRecent() (Sample, bool) {
	if t.History.Len() == 0 {
		return Sample{}, false
	}
	return t.History.Peek(t.History.Len() - 1), true
}

// DurationFrames is the span from first to last sighting, inclusive
func (t *State) DurationFrames() int64 {
	return t.LastSeenFrame - t.FirstSeenFrame + 1
}

// Store owns the state of every track seen in a stream.
// One Store per camera. Not safe for concurrent use.
type Store struct {
	log        logs.Log
	cfg        Config
	historyCap int
	tracks     map[int64]*State
}

func NewStore(log logs.Log, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:        log,
		cfg:        cfg,
		historyCap: nextPowerOf2(cfg.HistorySize),
		tracks:     map[int64]*State{},
	}, nil
}

// Update appends a position sample for the given track, creating the track
// state on first sight. The oldest sample drops silently when the history
// is full.
func (s *Store) Update(trackID int64, box geom.Rect, frameID int64) *State {
	t := s.tracks[trackID]
	if t == nil {
		t = &State{
			ID:             trackID,
			History:        ringbuffer.NewRingP[Sample](s.historyCap),
			FirstSeenFrame: frameID,
		}
		s.tracks[trackID] = t
	}
	t.History.Add(Sample{
		FrameID: frameID,
		Box:     box,
		Center:  box.Center(),
	})
	t.LastSeenFrame = frameID
	t.TotalFrames++
	return t
}

// Velocity is the mean centroid displacement per frame over the last
// min(VelocityWindow, len) samples. Zero if the track has fewer than 2
// samples, or does not exist.
func (s *Store) Velocity(trackID int64) float32 {
	t := s.tracks[trackID]
	if t == nil {
		return 0
	}
	return t.Velocity(s.cfg.VelocityWindow)
}

func (t *State) Velocity(window int) float32 {
	n := t.History.Len()
	if n < 2 {
		return 0
	}
	first := max(0, n-window)
	sum := float32(0)
	for i := first + 1; i < n; i++ {
		sum += t.History.Peek(i).Center.Distance(t.History.Peek(i - 1).Center)
	}
	return sum / float32(n-first-1)
}

// CurrentBox returns the most recent bounding box of the track, or a zero
// box if the track is unknown.
func (s *Store) CurrentBox(trackID int64) geom.Rect {
	if t := s.tracks[trackID]; t != nil {
		if sample, ok := t.MostRecent(); ok {
			return sample.Box
		}
	}
	return geom.Rect{}
}

// Get returns the state of a track, or (nil, false) if we've never seen it
func (s *Store) Get(trackID int64) (*State, bool) {
	t, ok := s.tracks[trackID]
	return t, ok
}

func (s *Store) NumTracks() int {
	return len(s.tracks)
}

// Remove evicts any track not seen since beforeFrame, and returns the number evicted
func (s *Store) RemoveStale(beforeFrame int64) int {
	n := 0
	for id, t := range s.tracks {
		if t.LastSeenFrame < beforeFrame {
			delete(s.tracks, id)
			n++
		}
	}
	return n
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
