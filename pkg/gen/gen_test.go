package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeleteFirst(t *testing.T) {
	a := []int{1, 2, 3}
	b := DeleteFirst(a, -1)
	require.Equal(t, a, b)

	a = []int{1, 2, 3}
	b = DeleteFirst(a, 2)
	require.ElementsMatch(t, []int{1, 3}, b)

	a = []int{1}
	b = DeleteFirst(a, 1)
	require.ElementsMatch(t, []int{}, b)
}

func TestClamp(t *testing.T) {
	require.Equal(t, 3, Clamp(5, 0, 3))
	require.Equal(t, 0, Clamp(-1, 0, 3))
	require.Equal(t, 2, Clamp(2, 0, 3))
	require.Equal(t, float32(1), Clamp(float32(7), 0, 1))
}

func TestDrainChannelIntoSlice(t *testing.T) {
	ch := make(chan int, 10)
	ch <- 7
	ch <- 8
	require.Equal(t, []int{7, 8}, DrainChannelIntoSlice(ch))
	require.Equal(t, []int{}, DrainChannelIntoSlice(ch))
}
