package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/inodetable"
	"github.com/razorfs/razorfs/internal/lockorder"
	"github.com/razorfs/razorfs/internal/nodearena"
	"github.com/razorfs/razorfs/internal/strarena"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	nodes := nodearena.New(0)
	strs := strarena.New(1 << 20)
	ino := inodetable.New()
	locks := lockorder.New()

	rootIdx, err := nodes.Alloc()
	require.NoError(t, err)
	require.Equal(t, RootIndex, rootIdx)
	root, err := nodes.Get(rootIdx)
	require.NoError(t, err)
	*root = nodearena.Node{Inode: inodetable.RootInode, Parent: nodearena.SentinelIndex, Type: nodearena.TypeDir, LinkCount: 2}
	nodearena.MarkAllocated(root)
	require.NoError(t, ino.Link(inodetable.RootInode, rootIdx))

	return New(Config{MaxNameBytes: 255, RebalanceInterval: 0}, nodes, strs, ino, locks)
}

func mkdir(t *testing.T, tr *Tree, parent uint32, name string) uint32 {
	t.Helper()
	inode := tr.ino.AllocateInode()
	idx, err := tr.Insert(parent, []byte(name), inode, NodeInit{Type: nodearena.TypeDir, Mode: 0o755})
	require.NoError(t, err)
	return idx
}

func touch(t *testing.T, tr *Tree, parent uint32, name string) uint32 {
	t.Helper()
	inode := tr.ino.AllocateInode()
	idx, err := tr.Insert(parent, []byte(name), inode, NodeInit{Type: nodearena.TypeFile, Mode: 0o644})
	require.NoError(t, err)
	return idx
}

func TestResolveRoot(t *testing.T) {
	tr := newTestTree(t)
	idx, err := tr.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, RootIndex, idx)

	idx, err = tr.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, RootIndex, idx)
}

func TestResolveNestedPath(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")
	f := touch(t, tr, a, "f")

	idx, err := tr.Resolve("/a/f")
	require.NoError(t, err)
	assert.Equal(t, f, idx)
}

func TestResolveDotAndDotDot(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")

	idx, err := tr.Resolve("/a/.")
	require.NoError(t, err)
	assert.Equal(t, a, idx)

	idx, err = tr.Resolve("/a/..")
	require.NoError(t, err)
	assert.Equal(t, RootIndex, idx)
}

func TestResolveNotFound(t *testing.T) {
	tr := newTestTree(t)
	_, err := tr.Resolve("/nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveThroughFileIsNotDir(t *testing.T) {
	tr := newTestTree(t)
	touch(t, tr, RootIndex, "f")
	_, err := tr.Resolve("/f/g")
	assert.ErrorIs(t, err, errs.ErrNotDir)
}

func TestRenameAcrossDirectories(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")
	b := mkdir(t, tr, RootIndex, "b")
	f := touch(t, tr, a, "f")

	err := tr.Rename(a, []byte("f"), b, []byte("g"), RenameDefault)
	require.NoError(t, err)

	_, err = tr.Lookup(a, []byte("f"))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	got, err := tr.Lookup(b, []byte("g"))
	require.NoError(t, err)
	assert.Equal(t, f, got)

	node, err := tr.nodes.Get(f)
	require.NoError(t, err)
	assert.EqualValues(t, 1, node.LinkCount)
}

func TestRenameCyclePrevention(t *testing.T) {
	tr := newTestTree(t)
	x := mkdir(t, tr, RootIndex, "x")
	y := mkdir(t, tr, x, "y")

	err := tr.Rename(RootIndex, []byte("x"), y, []byte("x"), RenameDefault)
	assert.ErrorIs(t, err, errs.ErrLoop)

	// Tree unchanged: "x" still resolves under root.
	idx, err := tr.Resolve("/x")
	require.NoError(t, err)
	assert.Equal(t, x, idx)
}

func TestRenameRoundTripIsNoop(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")
	b := mkdir(t, tr, RootIndex, "b")

	require.NoError(t, tr.Rename(RootIndex, []byte("a"), RootIndex, []byte("b_tmp"), RenameDefault))
	require.NoError(t, tr.Rename(RootIndex, []byte("b_tmp"), RootIndex, []byte("a"), RenameDefault))

	idx, err := tr.Resolve("/a")
	require.NoError(t, err)
	assert.Equal(t, a, idx)
	_ = b
}

func TestRenameNoReplaceFailsWhenDestExists(t *testing.T) {
	tr := newTestTree(t)
	touch(t, tr, RootIndex, "a")
	touch(t, tr, RootIndex, "b")

	err := tr.Rename(RootIndex, []byte("a"), RootIndex, []byte("b"), RenameNoReplace)
	assert.ErrorIs(t, err, errs.ErrExists)
}

func TestRenameReplacesExistingDestination(t *testing.T) {
	tr := newTestTree(t)
	srcIdx := touch(t, tr, RootIndex, "a")
	touch(t, tr, RootIndex, "b")

	err := tr.Rename(RootIndex, []byte("a"), RootIndex, []byte("b"), RenameDefault)
	require.NoError(t, err)

	got, err := tr.Lookup(RootIndex, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, srcIdx, got)

	_, err = tr.Lookup(RootIndex, []byte("a"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRebalanceNowPreservesTreeShape(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")
	touch(t, tr, a, "f")
	touch(t, tr, RootIndex, "g")

	require.NoError(t, tr.RebalanceNow())

	aIdx, err := tr.Resolve("/a")
	require.NoError(t, err)
	_, err = tr.Lookup(aIdx, []byte("f"))
	require.NoError(t, err)
	_, err = tr.Resolve("/g")
	require.NoError(t, err)
}

func TestRebalanceIfDueRespectsInterval(t *testing.T) {
	nodes := nodearena.New(0)
	strs := strarena.New(1 << 20)
	ino := inodetable.New()
	locks := lockorder.New()
	rootIdx, err := nodes.Alloc()
	require.NoError(t, err)
	root, _ := nodes.Get(rootIdx)
	*root = nodearena.Node{Inode: inodetable.RootInode, Parent: nodearena.SentinelIndex, Type: nodearena.TypeDir, LinkCount: 2}
	nodearena.MarkAllocated(root)
	require.NoError(t, ino.Link(inodetable.RootInode, rootIdx))

	tr := New(Config{MaxNameBytes: 255, RebalanceInterval: 2}, nodes, strs, ino, locks)
	touch(t, tr, RootIndex, "one")
	assert.Equal(t, 1, tr.MutationsSinceRebalance())
	touch(t, tr, RootIndex, "two")

	require.NoError(t, tr.RebalanceIfDue())
	assert.Equal(t, 0, tr.MutationsSinceRebalance())
}

func TestGetAttrAndSetAttr(t *testing.T) {
	tr := newTestTree(t)
	f := touch(t, tr, RootIndex, "f")

	attr, err := tr.GetAttr(f)
	require.NoError(t, err)
	assert.Equal(t, nodearena.TypeFile, attr.Type)
	assert.EqualValues(t, 0o644, attr.Mode)
	assert.EqualValues(t, 1, attr.LinkCount)

	newMode := uint32(0o600)
	newSize := uint64(42)
	require.NoError(t, tr.SetAttr(f, AttrChanges{Mode: &newMode, Size: &newSize}, 1000))

	attr, err = tr.GetAttr(f)
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, attr.Mode)
	assert.EqualValues(t, 42, attr.Size)
	assert.EqualValues(t, 1000, attr.Ctime)
}

func TestSetAttrRejectsSizeOnDirectory(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")

	newSize := uint64(1)
	err := tr.SetAttr(a, AttrChanges{Size: &newSize}, 1)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestXattrHeadRoundTrip(t *testing.T) {
	tr := newTestTree(t)
	f := touch(t, tr, RootIndex, "f")

	head, err := tr.XattrHead(f)
	require.NoError(t, err)
	assert.EqualValues(t, 0, head)

	require.NoError(t, tr.SetXattrHead(f, 7, 2000))
	head, err = tr.XattrHead(f)
	require.NoError(t, err)
	assert.EqualValues(t, 7, head)

	attr, err := tr.GetAttr(f)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, attr.Ctime)
}

func TestSymlinkTarget(t *testing.T) {
	tr := newTestTree(t)
	inode := tr.ino.AllocateInode()
	idx, err := tr.Insert(RootIndex, []byte("link"), inode, NodeInit{
		Type:          nodearena.TypeSymlink,
		SymlinkTarget: []byte("/a/f"),
	})
	require.NoError(t, err)

	target, err := tr.SymlinkTarget(idx)
	require.NoError(t, err)
	assert.Equal(t, []byte("/a/f"), target)
}

func TestSymlinkTargetRejectsNonSymlink(t *testing.T) {
	tr := newTestTree(t)
	f := touch(t, tr, RootIndex, "f")
	_, err := tr.SymlinkTarget(f)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestLinkExistingBumpsLinkCount(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")
	f := touch(t, tr, a, "f")

	require.NoError(t, tr.LinkExisting(RootIndex, []byte("g"), f))

	got, err := tr.Lookup(RootIndex, []byte("g"))
	require.NoError(t, err)
	assert.Equal(t, f, got)

	node, err := tr.nodes.Get(f)
	require.NoError(t, err)
	assert.EqualValues(t, 2, node.LinkCount)
}

func TestLinkExistingRejectsDirectories(t *testing.T) {
	tr := newTestTree(t)
	a := mkdir(t, tr, RootIndex, "a")
	err := tr.LinkExisting(RootIndex, []byte("b"), a)
	assert.ErrorIs(t, err, errs.ErrIsDir)
}

func TestLinkExistingRejectsDuplicateName(t *testing.T) {
	tr := newTestTree(t)
	f := touch(t, tr, RootIndex, "f")
	touch(t, tr, RootIndex, "g")
	err := tr.LinkExisting(RootIndex, []byte("g"), f)
	assert.ErrorIs(t, err, errs.ErrExists)
}

func TestReadDirPaginates(t *testing.T) {
	tr := newTestTree(t)
	touch(t, tr, RootIndex, "a")
	touch(t, tr, RootIndex, "b")
	touch(t, tr, RootIndex, "c")

	entries, cursor, err := tr.ReadDir(RootIndex, 0, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, cursor)

	entries, cursor, err = tr.ReadDir(RootIndex, cursor, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 3, cursor)
}

func TestReadDirRejectsNonDirectory(t *testing.T) {
	tr := newTestTree(t)
	f := touch(t, tr, RootIndex, "f")
	_, _, err := tr.ReadDir(f, 0, 0)
	assert.ErrorIs(t, err, errs.ErrNotDir)
}
