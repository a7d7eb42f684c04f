package threeds

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompletionBox_FiresOnce(t *testing.T) {
	var calls atomic.Int32
	box := newCompletionBox(func(v int, err error) { calls.Add(1) }, nil, nil)

	require.NoError(t, box.fire(1, nil))
	require.ErrorIs(t, box.fire(2, nil), ErrCompletionAlreadyFired)
	require.Equal(t, int32(1), calls.Load())
}

func TestCompletionBox_RecoversPanic(t *testing.T) {
	var recovered any
	box := newCompletionBox(func(int, error) { panic("boom") }, InlineDispatcher, func(r any) { recovered = r })

	require.NoError(t, box.fire(1, nil))
	require.Equal(t, "boom", recovered)
}

func TestQueueDispatcher_RunsInOrder(t *testing.T) {
	d := NewQueueDispatcher(0)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		d.Dispatch(func() { got = append(got, i) })
	}
	d.Close()
	d.Close()

	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}
