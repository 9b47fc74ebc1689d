package track

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/geom"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := NewStore(logs.NewTestingLog(t), DefaultConfig())
	require.NoError(t, err)
	return s
}

func boxAt(x, y float32) geom.Rect {
	return geom.MakeRect(x, y, x+40, y+80)
}

func TestVelocity(t *testing.T) {
	s := newTestStore(t)

	// Unknown track and single-sample track both have zero velocity
	require.Equal(t, float32(0), s.Velocity(1))
	s.Update(1, boxAt(0, 0), 0)
	require.Equal(t, float32(0), s.Velocity(1))

	// Constant 5 px/frame horizontal motion
	for i := int64(1); i < 20; i++ {
		s.Update(1, boxAt(float32(i)*5, 0), i)
	}
	require.InDelta(t, 5.0, float64(s.Velocity(1)), 1e-4)

	// Stop moving. The window is 10 samples, so after 10 stationary
	// frames the velocity must read zero.
	for i := int64(20); i < 31; i++ {
		s.Update(1, boxAt(95, 0), i)
	}
	require.InDelta(t, 0.0, float64(s.Velocity(1)), 1e-4)
}

func TestHistoryBounded(t *testing.T) {
	s := newTestStore(t)
	for i := int64(0); i < 500; i++ {
		s.Update(3, boxAt(float32(i), 0), i)
	}
	st, ok := s.Get(3)
	require.True(t, ok)
	// HistorySize 30 rounds up to a 32-slot ring holding 31 samples
	require.Equal(t, 31, st.History.Len())
	require.Equal(t, int64(500), st.TotalFrames)
	require.Equal(t, int64(0), st.FirstSeenFrame)
	require.Equal(t, int64(499), st.LastSeenFrame)
	require.Equal(t, int64(500), st.DurationFrames())
	// Oldest entries dropped, newest retained
	newest, ok := st.MostRecent()
	require.True(t, ok)
	require.Equal(t, int64(499), newest.FrameID)
}

func TestCurrentBox(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.CurrentBox(9).IsZero())
	s.Update(9, boxAt(10, 20), 1)
	require.Equal(t, boxAt(10, 20), s.CurrentBox(9))
}

func TestRemoveStale(t *testing.T) {
	s := newTestStore(t)
	s.Update(1, boxAt(0, 0), 10)
	s.Update(2, boxAt(0, 0), 50)
	require.Equal(t, 1, s.RemoveStale(20))
	require.Equal(t, 1, s.NumTracks())
	_, ok := s.Get(2)
	require.True(t, ok)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 1
	_, err := NewStore(logs.NewTestingLog(t), cfg)
	require.Error(t, err)
}
