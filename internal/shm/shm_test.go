package shm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorfs/razorfs/internal/nodearena"
)

func TestOpenOrCreateInitializesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")
	r, err := OpenOrCreate(path, 4096)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(0), r.Used())
	assert.Equal(t, int64(4096), r.Capacity())
}

func TestReopenValidatesExistingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")
	r, err := OpenOrCreate(path, 4096)
	require.NoError(t, err)
	require.NoError(t, r.SetUsed(100))
	require.NoError(t, r.Flush())
	require.NoError(t, r.Close())

	r2, err := OpenOrCreate(path, 4096)
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, int64(100), r2.Used())
}

func TestReopenWithDifferentCapacityFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")
	r, err := OpenOrCreate(path, 4096)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = OpenOrCreate(path, 8192)
	assert.Error(t, err)
}

func TestPersistAndLoadArenasRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")
	r, err := OpenOrCreate(path, 1<<20)
	require.NoError(t, err)
	defer r.Close()

	nodes := []nodearena.Node{
		{Inode: 1, Parent: nodearena.SentinelIndex, Type: nodearena.TypeDir, Children: []uint32{1}},
		{Inode: 2, Parent: 0, Type: nodearena.TypeFile, Size: 42},
	}
	nodearena.MarkAllocated(&nodes[0])
	nodearena.MarkAllocated(&nodes[1])
	strBytes := []byte{0, 0, 0, 0, 5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}

	require.NoError(t, PersistArenas(r, nodes, nodearena.SentinelIndex, strBytes))

	loadedNodes, freeHead, loadedStr, err := LoadArenas(r)
	require.NoError(t, err)
	assert.Equal(t, nodearena.SentinelIndex, freeHead)
	require.Len(t, loadedNodes, 2)
	assert.Equal(t, uint64(1), loadedNodes[0].Inode)
	assert.Equal(t, []uint32{1}, loadedNodes[0].Children)
	assert.Equal(t, uint64(2), loadedNodes[1].Inode)
	assert.Equal(t, uint64(42), loadedNodes[1].Size)
	assert.Equal(t, strBytes, loadedStr)
}

func TestPersistArenasExceedingCapacityFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")
	r, err := OpenOrCreate(path, 32)
	require.NoError(t, err)
	defer r.Close()

	nodes := []nodearena.Node{{Inode: 1, Children: make([]uint32, 100)}}
	err = PersistArenas(r, nodes, nodearena.SentinelIndex, nil)
	assert.Error(t, err)
}

func TestLoadArenasOnFreshRegionIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")
	r, err := OpenOrCreate(path, 4096)
	require.NoError(t, err)
	defer r.Close()

	nodes, _, strBytes, err := LoadArenas(r)
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, strBytes)
}
