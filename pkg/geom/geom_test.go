package geom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRect(t *testing.T) {
	a := MakeRect(0, 0, 10, 10)
	b := MakeRect(5, 5, 15, 15)
	require.Equal(t, float32(100), a.Area())
	require.Equal(t, float32(25), a.Intersection(b).Area())
	require.InDelta(t, 25.0/175.0, float64(a.IOU(b)), 1e-6)
	require.Equal(t, a.IOU(b), b.IOU(a))

	c := MakeRect(20, 20, 30, 30)
	require.Equal(t, float32(0), a.IOU(c))
	require.True(t, a.Intersection(c).IsZero())

	require.Equal(t, Point{X: 5, Y: 5}, a.Center())
	require.Equal(t, float32(0), Rect{}.IOU(Rect{}))
}

func TestPointDistance(t *testing.T) {
	require.Equal(t, float32(5), Point{X: 0, Y: 0}.Distance(Point{X: 3, Y: 4}))
}
