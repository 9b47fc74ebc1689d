package pipeline

import (
	"fmt"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/geom"
	"github.com/sentinelcam/sentinel/server/analysis"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	e, err := NewEngine(logs.NewTestingLog(t), BoxSource{}, DefaultOptions(640, 480, 30))
	require.NoError(t, err)
	return e
}

func frameWithBoxes(id int64, boxes ...TrackedBox) *Frame {
	return &Frame{ID: id, Boxes: boxes}
}

func walker(trackID int64, frameID int64) TrackedBox {
	x := float32(frameID) * 5
	return TrackedBox{TrackID: trackID, Box: geom.MakeRect(x, 100, x+40, 200), Confidence: 0.9}
}

func TestProcessFrameSequence(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	var firstEvents []*analysis.Event
	for frameID := int64(0); frameID < 30; frameID++ {
		result, err := e.ProcessFrame(frameWithBoxes(frameID, walker(1, frameID)))
		require.NoError(t, err)
		require.False(t, result.Skipped)
		require.Len(t, result.Snapshots, 1)
		if frameID == 0 {
			firstEvents = result.Events
		}
	}

	// First frame has no velocity, so the track opens as standing, then
	// transitions to walking once the window fills
	require.Len(t, firstEvents, 1)
	require.Equal(t, analysis.ActionStanding, firstEvents[0].Action)

	report := e.Report()
	require.Equal(t, int64(30), report.Frames)
	require.Equal(t, int64(2), report.Events.TotalEvents)
	require.Equal(t, int64(1), report.Events.ActionCounts[analysis.ActionWalking])
	require.Equal(t, int64(30), report.Heatmap.TotalDetections)
	require.Greater(t, report.Timing.Stages["tracking"].Count, 0)
	require.Greater(t, report.Timing.Stages["action_classification"].Count, 0)
}

func TestInvalidFrameSkipped(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	result, err := e.ProcessFrame(nil)
	require.NoError(t, err)
	require.True(t, result.Skipped)

	report := e.Report()
	require.Equal(t, int64(0), report.Frames)
	require.Equal(t, int64(1), report.Skipped)
}

type brokenTracker struct{}

func (brokenTracker) Track(frame *Frame) ([]TrackedBox, error) {
	return nil, fmt.Errorf("model crashed")
}

func TestTrackerErrorIsFatal(t *testing.T) {
	e, err := NewEngine(logs.NewTestingLog(t), brokenTracker{}, DefaultOptions(640, 480, 30))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.ProcessFrame(frameWithBoxes(0, walker(1, 0)))
	require.Error(t, err)
	require.ErrorContains(t, err, "model crashed")
}

func TestCrowdAlertThroughPipeline(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	boxes := []TrackedBox{}
	for i := int64(1); i <= 11; i++ {
		x := float32(i) * 50
		boxes = append(boxes, TrackedBox{TrackID: i, Box: geom.MakeRect(x, 100, x+30, 180), Confidence: 0.9})
	}
	result, err := e.ProcessFrame(&Frame{ID: 0, Boxes: boxes})
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	require.Equal(t, "crowd_detected", result.Alerts[0].Type)
	require.Len(t, result.Alerts[0].TrackIDs, 11)

	// Still crowded next frame, but inside the dedup window
	result, err = e.ProcessFrame(&Frame{ID: 1, Boxes: boxes})
	require.NoError(t, err)
	require.Empty(t, result.Alerts)
}

func TestAnnotationSkipsMismatchedImage(t *testing.T) {
	opts := DefaultOptions(640, 480, 30)
	opts.Annotate = true
	e, err := NewEngine(logs.NewTestingLog(t), BoxSource{}, opts)
	require.NoError(t, err)
	defer e.Close()

	// An image at the wrong resolution must not panic the frame loop
	small := cimg.NewImage(320, 240, cimg.PixelFormatRGB)
	result, err := e.ProcessFrame(&Frame{ID: 0, Image: small, Boxes: []TrackedBox{walker(1, 0)}})
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Nil(t, result.Annotated)

	good := cimg.NewImage(640, 480, cimg.PixelFormatRGB)
	result, err = e.ProcessFrame(&Frame{ID: 1, Image: good, Boxes: []TrackedBox{walker(1, 1)}})
	require.NoError(t, err)
	require.NotNil(t, result.Annotated)
	require.Equal(t, 640, result.Annotated.Width)
	require.Equal(t, 480, result.Annotated.Height)
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions(0, 480, 30)
	_, err := NewEngine(logs.NewTestingLog(t), BoxSource{}, opts)
	require.Error(t, err)

	opts = DefaultOptions(640, 480, 30)
	opts.Fight.MinParticipants = 1
	_, err = NewEngine(logs.NewTestingLog(t), BoxSource{}, opts)
	require.Error(t, err)
}
