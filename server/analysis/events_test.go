package analysis

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/geom"
	"github.com/sentinelcam/sentinel/server/track"
	"github.com/stretchr/testify/require"
)

func newEventLog(t *testing.T) *EventLog {
	l, err := NewEventLog(logs.NewTestingLog(t), 30)
	require.NoError(t, err)
	return l
}

func TestEventEdgeTriggered(t *testing.T) {
	l := newEventLog(t)
	store, err := track.NewStore(logs.NewTestingLog(t), track.DefaultConfig())
	require.NoError(t, err)
	snap := snapshotWithVelocity(t, store, 1, 5)

	// A contiguous run of the same action emits exactly one event
	ev := l.RecordIfChanged(0, snap, ActionWalking, 0.8)
	require.NotNil(t, ev)
	for frame := int64(1); frame < 50; frame++ {
		require.Nil(t, l.RecordIfChanged(frame, snap, ActionWalking, 0.8))
	}

	// A change emits, and a change back emits again
	require.NotNil(t, l.RecordIfChanged(50, snap, ActionRunning, 0.85))
	require.NotNil(t, l.RecordIfChanged(51, snap, ActionWalking, 0.8))
	require.Len(t, l.Events(), 3)
}

func TestEventContents(t *testing.T) {
	l := newEventLog(t)
	store, err := track.NewStore(logs.NewTestingLog(t), track.DefaultConfig())
	require.NoError(t, err)

	box := geom.MakeRect(10, 20, 50, 100)
	st := store.Update(4, box, 90)
	snap := &Snapshot{TrackID: 4, Box: box, Confidence: 0.9, Velocity: 7, State: st}
	st.StationaryFrames = 3

	ev := l.RecordIfChanged(90, snap, ActionWalking, 0.8)
	require.NotNil(t, ev)
	require.Equal(t, int64(90), ev.FrameID)
	require.InDelta(t, 3.0, ev.TimeSeconds, 1e-9)
	require.Equal(t, int64(4), ev.TrackID)
	require.Equal(t, [4]float32{10, 20, 50, 100}, ev.Bbox)
	require.Equal(t, float32(3200), ev.Metadata.BboxArea)
	require.Equal(t, float32(7), ev.Metadata.Velocity)
	require.Equal(t, 3, ev.Metadata.StationaryFrames)
	require.Equal(t, float32(0.9), ev.Metadata.DetectionConfidence)
}

func TestEventSummary(t *testing.T) {
	l := newEventLog(t)
	store, err := track.NewStore(logs.NewTestingLog(t), track.DefaultConfig())
	require.NoError(t, err)

	// Empty log: distribution must not divide by zero
	s := l.Summary()
	require.Equal(t, int64(0), s.TotalEvents)
	require.Equal(t, 0, s.UniqueTracks)

	a := snapshotWithVelocity(t, store, 1, 5)
	b := snapshotWithVelocity(t, store, 2, 20)
	l.RecordIfChanged(0, a, ActionWalking, 0.8)
	l.RecordIfChanged(0, b, ActionRunning, 0.85)
	l.RecordIfChanged(10, a, ActionRunning, 0.85)

	s = l.Summary()
	require.Equal(t, int64(3), s.TotalEvents)
	require.Equal(t, 2, s.UniqueTracks)
	require.Equal(t, int64(2), s.ActionCounts[ActionRunning])
	require.InDelta(t, 2.0/3.0, s.ActionDistribution[ActionRunning], 1e-9)
	require.InDelta(t, 1.0/3.0, s.ActionDistribution[ActionWalking], 1e-9)
}

func TestEventFilter(t *testing.T) {
	l := newEventLog(t)
	store, err := track.NewStore(logs.NewTestingLog(t), track.DefaultConfig())
	require.NoError(t, err)

	a := snapshotWithVelocity(t, store, 1, 5)
	b := snapshotWithVelocity(t, store, 2, 20)
	l.RecordIfChanged(0, a, ActionWalking, 0.8)
	l.RecordIfChanged(30, b, ActionRunning, 0.85)
	l.RecordIfChanged(300, a, ActionRunning, 0.85)

	require.Len(t, l.Filter(EventFilter{Actions: []Action{ActionRunning}}), 2)
	require.Len(t, l.Filter(EventFilter{TrackIDs: []int64{1}}), 2)
	require.Len(t, l.Filter(EventFilter{HasTimeRange: true, MinTimeSec: 0.5, MaxTimeSec: 2}), 1)
	require.Len(t, l.Filter(EventFilter{}), 3)
}
