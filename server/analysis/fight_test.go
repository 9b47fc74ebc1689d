package analysis

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/geom"
	"github.com/stretchr/testify/require"
)

func newFightDetector(t *testing.T) *FightDetector {
	d, err := NewFightDetector(logs.NewTestingLog(t), DefaultFightConfig())
	require.NoError(t, err)
	return d
}

// Two overlapping tracks (IoU 0.5), one moving fast
func fightingPair() (*Snapshot, *Snapshot) {
	a := &Snapshot{TrackID: 1, Box: geom.MakeRect(0, 0, 150, 100), Velocity: 20}
	b := &Snapshot{TrackID: 2, Box: geom.MakeRect(50, 0, 200, 100), Velocity: 5}
	return a, b
}

func TestFightTimeline(t *testing.T) {
	d := newFightDetector(t)
	a, b := fightingPair()

	// First qualifying frame creates the pair state but reports nothing,
	// because the duration score is still zero.
	events := d.ScanPairs([]*Snapshot{a, b}, 0)
	require.Empty(t, events)
	require.Equal(t, 1, d.NumPairs())

	// From the next frame on, proximity + movement alone clear the
	// reporting threshold, and confidence keeps growing as the
	// interaction is sustained.
	var lastConfidence float32
	for frame := int64(1); frame <= 70; frame++ {
		events = d.ScanPairs([]*Snapshot{a, b}, frame)
		require.Len(t, events, 1)
		ev := events[0]
		require.Greater(t, ev.Confidence, float32(0.6))
		require.Equal(t, [2]int64{1, 2}, ev.Participants)
		require.Equal(t, frame, ev.DurationFrames)
		require.GreaterOrEqual(t, ev.Confidence, lastConfidence)
		lastConfidence = ev.Confidence
	}
	// Duration score is capped at 1
	require.InDelta(t, 0.4+0.4*(12.5/15.0)+0.2, float64(lastConfidence), 1e-4)
}

func TestFightSymmetry(t *testing.T) {
	a, b := fightingPair()

	d1 := newFightDetector(t)
	d2 := newFightDetector(t)
	for frame := int64(0); frame < 10; frame++ {
		ev1 := d1.ScanPairs([]*Snapshot{a, b}, frame)
		ev2 := d2.ScanPairs([]*Snapshot{b, a}, frame)
		require.Equal(t, ev1, ev2)
	}
}

func TestFightRequiresMovement(t *testing.T) {
	d := newFightDetector(t)
	// Full overlap but nobody moving fast
	a := &Snapshot{TrackID: 1, Box: geom.MakeRect(0, 0, 100, 100), Velocity: 10}
	b := &Snapshot{TrackID: 2, Box: geom.MakeRect(10, 0, 110, 100), Velocity: 10}
	for frame := int64(0); frame < 100; frame++ {
		require.Empty(t, d.ScanPairs([]*Snapshot{a, b}, frame))
	}
	require.Equal(t, 0, d.NumPairs())
}

func TestFightRequiresProximity(t *testing.T) {
	d := newFightDetector(t)
	// Fast movers with no overlap
	a := &Snapshot{TrackID: 1, Box: geom.MakeRect(0, 0, 100, 100), Velocity: 30}
	b := &Snapshot{TrackID: 2, Box: geom.MakeRect(500, 0, 600, 100), Velocity: 30}
	for frame := int64(0); frame < 100; frame++ {
		require.Empty(t, d.ScanPairs([]*Snapshot{a, b}, frame))
	}
	require.Equal(t, 0, d.NumPairs())
}

func TestFightEviction(t *testing.T) {
	d := newFightDetector(t)
	a, b := fightingPair()
	d.ScanPairs([]*Snapshot{a, b}, 0)
	require.Equal(t, 1, d.NumPairs())

	// The pair separates. State survives the eviction gap, then purges.
	for frame := int64(1); frame <= 30; frame++ {
		d.ScanPairs([]*Snapshot{}, frame)
	}
	require.Equal(t, 1, d.NumPairs())
	d.ScanPairs([]*Snapshot{}, 31)
	require.Equal(t, 0, d.NumPairs())
}

func TestFightNeedsTwoTracks(t *testing.T) {
	d := newFightDetector(t)
	a, _ := fightingPair()
	require.Empty(t, d.ScanPairs([]*Snapshot{a}, 0))
}
