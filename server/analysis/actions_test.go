package analysis

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/geom"
	"github.com/sentinelcam/sentinel/server/track"
	"github.com/stretchr/testify/require"
)

func newClassifier(t *testing.T, falls *FallDetector) *Classifier {
	c, err := NewClassifier(logs.NewTestingLog(t), DefaultClassifierConfig(), falls)
	require.NoError(t, err)
	return c
}

func snapshotWithVelocity(t *testing.T, store *track.Store, trackID int64, velocity float32) *Snapshot {
	box := geom.MakeRect(0, 0, 40, 80)
	st := store.Update(trackID, box, 0)
	return &Snapshot{
		TrackID:  trackID,
		Box:      box,
		Velocity: velocity,
		State:    st,
	}
}

func TestClassifyMovement(t *testing.T) {
	c := newClassifier(t, nil)
	store, err := track.NewStore(logs.NewTestingLog(t), track.DefaultConfig())
	require.NoError(t, err)

	action, conf := c.Classify(snapshotWithVelocity(t, store, 1, 0.5), testFrameHeight)
	require.Equal(t, ActionStanding, action)
	require.Equal(t, float32(0.75), conf)

	action, conf = c.Classify(snapshotWithVelocity(t, store, 2, 5), testFrameHeight)
	require.Equal(t, ActionWalking, action)
	require.Equal(t, float32(0.80), conf)

	action, conf = c.Classify(snapshotWithVelocity(t, store, 3, 20), testFrameHeight)
	require.Equal(t, ActionRunning, action)
	require.Equal(t, float32(0.85), conf)

	// Boundary values
	action, _ = c.Classify(snapshotWithVelocity(t, store, 4, 3), testFrameHeight)
	require.Equal(t, ActionWalking, action)
	action, _ = c.Classify(snapshotWithVelocity(t, store, 5, 12), testFrameHeight)
	require.Equal(t, ActionRunning, action)
}

func TestClassifyStationaryCounter(t *testing.T) {
	c := newClassifier(t, nil)
	store, err := track.NewStore(logs.NewTestingLog(t), track.DefaultConfig())
	require.NoError(t, err)

	snap := snapshotWithVelocity(t, store, 1, 0.5)
	for i := 0; i < 90; i++ {
		action, _ := c.Classify(snap, testFrameHeight)
		require.Equal(t, ActionStanding, action)
	}
	require.Equal(t, 90, snap.State.StationaryFrames)

	// The 91st stationary frame crosses the loitering threshold
	action, conf := c.Classify(snap, testFrameHeight)
	require.Equal(t, ActionLoitering, action)
	require.Equal(t, float32(0.95), conf)

	// Any motion resets the counter
	snap.Velocity = 5
	action, _ = c.Classify(snap, testFrameHeight)
	require.Equal(t, ActionWalking, action)
	require.Equal(t, 0, snap.State.StationaryFrames)
}

func TestClassifyFallPreempts(t *testing.T) {
	falls := newFallDetector(t)
	c := newClassifier(t, falls)
	store, err := track.NewStore(logs.NewTestingLog(t), track.DefaultConfig())
	require.NoError(t, err)

	// Lying at the frame bottom for a long time. Without the fall
	// detector this would classify as loitering.
	box := geom.MakeRect(100, 850, 400, 950)
	st := makeStillTrack(t, store, 9, box, 10)
	st.StationaryFrames = 160
	snap := &Snapshot{TrackID: 9, Box: box, Velocity: 0, State: st}

	action, conf := c.Classify(snap, testFrameHeight)
	require.Equal(t, ActionFallen, action)
	require.Greater(t, conf, float32(0.6))
}

func TestClassifierConfigValidate(t *testing.T) {
	cfg := DefaultClassifierConfig()
	cfg.RunningVelocity = cfg.WalkingVelocity
	_, err := NewClassifier(logs.NewTestingLog(t), cfg, nil)
	require.Error(t, err)
}
