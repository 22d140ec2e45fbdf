package nodearena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocInitializesZeroedState(t *testing.T) {
	a := New(0)
	idx, err := a.Alloc()
	require.NoError(t, err)

	n, err := a.Get(idx)
	require.NoError(t, err)
	assert.Equal(t, SentinelIndex, n.Parent)
	assert.Zero(t, n.LinkCount)
	assert.Empty(t, n.Children)
}

func TestFreeListReusesSlots(t *testing.T) {
	a := New(0)
	idx1, err := a.Alloc()
	require.NoError(t, err)

	require.NoError(t, a.Free(idx1))

	idx2, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, idx1, idx2)
}

func TestGetOnFreeSlotFails(t *testing.T) {
	a := New(0)
	idx, err := a.Alloc()
	require.NoError(t, err)
	require.NoError(t, a.Free(idx))

	_, err = a.Get(idx)
	assert.Error(t, err)
}

func TestCapacityExhausted(t *testing.T) {
	a := New(2)
	_, err := a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	assert.Error(t, err)
}

func TestGetOutOfRange(t *testing.T) {
	a := New(0)
	_, err := a.Get(42)
	assert.Error(t, err)
}

// A held *Node must stay live through a later Alloc that grows the
// arena past its prior length, even with no capacity pre-sizing --
// otherwise a write through it after the growth is silently lost.
func TestGetPointerSurvivesLaterAlloc(t *testing.T) {
	a := New(0)
	rootIdx, err := a.Alloc()
	require.NoError(t, err)
	root, err := a.Get(rootIdx)
	require.NoError(t, err)

	_, err = a.Alloc()
	require.NoError(t, err)

	root.Children = append(root.Children, 1)

	got, err := a.Get(rootIdx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, got.Children)
}
