package inodetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateInodeNeverRepeats(t *testing.T) {
	tbl := New()
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		inode := tbl.AllocateInode()
		assert.False(t, seen[inode], "inode %d allocated twice", inode)
		seen[inode] = true
	}
}

func TestLinkAndLookupRoundTrip(t *testing.T) {
	tbl := New()
	inode := tbl.AllocateInode()
	require.NoError(t, tbl.Link(inode, 7))

	idx, err := tbl.LookupByInode(inode)
	require.NoError(t, err)
	assert.EqualValues(t, 7, idx)

	back, err := tbl.LookupByIndex(7)
	require.NoError(t, err)
	assert.Equal(t, inode, back)
}

func TestUnlinkRemovesMapping(t *testing.T) {
	tbl := New()
	inode := tbl.AllocateInode()
	require.NoError(t, tbl.Link(inode, 3))
	require.NoError(t, tbl.Unlink(inode))

	_, err := tbl.LookupByInode(inode)
	assert.Error(t, err)
}

func TestIncrefDecref(t *testing.T) {
	tbl := New()
	inode := tbl.AllocateInode()
	require.NoError(t, tbl.Link(inode, 1))

	require.NoError(t, tbl.Incref(1))
	require.NoError(t, tbl.Incref(1))
	assert.EqualValues(t, 2, tbl.OpenHandles(1))

	remaining, err := tbl.Decref(1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, remaining)
}

func TestDecrefPastZeroPanics(t *testing.T) {
	tbl := New()
	inode := tbl.AllocateInode()
	require.NoError(t, tbl.Link(inode, 1))

	assert.Panics(t, func() {
		_, _ = tbl.Decref(1, 1)
	})
}

func TestObserveAdvancesNextPastReloadedInodes(t *testing.T) {
	tbl := New()
	tbl.Observe(500)
	inode := tbl.AllocateInode()
	assert.EqualValues(t, 501, inode)
}

func TestObserveIgnoresLowerInodes(t *testing.T) {
	tbl := New()
	first := tbl.AllocateInode()
	tbl.Observe(1)
	second := tbl.AllocateInode()
	assert.Equal(t, first+1, second)
}
