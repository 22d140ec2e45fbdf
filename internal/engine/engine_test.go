package engine

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorfs/razorfs/cfg"
	"github.com/razorfs/razorfs/internal/inodetable"
	"github.com/razorfs/razorfs/internal/tree"
	"github.com/razorfs/razorfs/internal/xattr"
)

func testConfig(t *testing.T) cfg.Config {
	t.Helper()
	dir := t.TempDir()
	c := cfg.DefaultConfig()
	c.Persistence.RegionPath = filepath.Join(dir, "razorfs.arena")
	c.Persistence.CapacityBytes = 1 << 20
	c.WAL.Path = filepath.Join(dir, "razorfs.wal")
	return c
}

func TestMountFreshInitializesRoot(t *testing.T) {
	h, err := Mount(testConfig(t))
	require.NoError(t, err)
	defer h.Unmount()

	attr, err := h.GetAttr(inodetable.RootInode)
	require.NoError(t, err)
	assert.Equal(t, inodetable.RootInode, attr.Inode)
}

func TestCreateWriteReadUnmountRemountRead(t *testing.T) {
	c := testConfig(t)

	h, err := Mount(c)
	require.NoError(t, err)
	inode, err := h.Create(inodetable.RootInode, "a.txt", 0o644, 0, 0)
	require.NoError(t, err)
	n, err := h.Write(inode, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, h.Unmount())

	h2, err := Mount(c)
	require.NoError(t, err)
	defer h2.Unmount()

	got, err := h2.Lookup(inodetable.RootInode, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, inode, got)

	data, err := h2.Read(got, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestRenameAcrossDirectories(t *testing.T) {
	h, err := Mount(testConfig(t))
	require.NoError(t, err)
	defer h.Unmount()

	srcDir, err := h.Mkdir(inodetable.RootInode, "src", 0o755, 0, 0)
	require.NoError(t, err)
	dstDir, err := h.Mkdir(inodetable.RootInode, "dst", 0o755, 0, 0)
	require.NoError(t, err)
	file, err := h.Create(srcDir, "f", 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, h.Rename(srcDir, "f", dstDir, "g", tree.RenameDefault))

	_, err = h.Lookup(srcDir, "f")
	assert.Error(t, err)
	got, err := h.Lookup(dstDir, "g")
	require.NoError(t, err)
	assert.Equal(t, file, got)
}

func TestRenameRejectsCycle(t *testing.T) {
	h, err := Mount(testConfig(t))
	require.NoError(t, err)
	defer h.Unmount()

	parent, err := h.Mkdir(inodetable.RootInode, "parent", 0o755, 0, 0)
	require.NoError(t, err)
	child, err := h.Mkdir(parent, "child", 0o755, 0, 0)
	require.NoError(t, err)

	err = h.Rename(inodetable.RootInode, "parent", child, "parent-under-child", tree.RenameDefault)
	assert.Error(t, err)
}

func TestTruncateGrowsAndShrinks(t *testing.T) {
	h, err := Mount(testConfig(t))
	require.NoError(t, err)
	defer h.Unmount()

	inode, err := h.Create(inodetable.RootInode, "f", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = h.Write(inode, 0, []byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, h.Truncate(inode, 4))
	attr, err := h.GetAttr(inode)
	require.NoError(t, err)
	assert.EqualValues(t, 4, attr.Size)

	require.NoError(t, h.Truncate(inode, 8))
	attr, err = h.GetAttr(inode)
	require.NoError(t, err)
	assert.EqualValues(t, 8, attr.Size)

	data, err := h.Read(inode, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestXattrSetGetListRemove(t *testing.T) {
	h, err := Mount(testConfig(t))
	require.NoError(t, err)
	defer h.Unmount()

	inode, err := h.Create(inodetable.RootInode, "f", 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, h.XattrSet(inode, xattr.NamespaceUser, []byte("k"), []byte("v"), 0))
	value, err := h.XattrGet(inode, xattr.NamespaceUser, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(value))

	entries, err := h.XattrList(inode)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, h.XattrRemove(inode, xattr.NamespaceUser, []byte("k")))
	_, err = h.XattrGet(inode, xattr.NamespaceUser, []byte("k"))
	assert.Error(t, err)
}

func TestConcurrentCreatesNoCollision(t *testing.T) {
	h, err := Mount(testConfig(t))
	require.NoError(t, err)
	defer h.Unmount()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Create(inodetable.RootInode, name(i), 0o644, 0, 0)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "create %d", i)
	}
	entries, _, err := h.ReadDir(inodetable.RootInode, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestConcurrentIdenticalCreateOneWins(t *testing.T) {
	h, err := Mount(testConfig(t))
	require.NoError(t, err)
	defer h.Unmount()

	const attempts = 8
	var wg sync.WaitGroup
	successes := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.Create(inodetable.RootInode, "dup", 0o644, 0, 0)
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	won := 0
	for _, ok := range successes {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)

	entries, _, err := h.ReadDir(inodetable.RootInode, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func name(i int) string {
	return "file-" + string(rune('a'+i))
}
