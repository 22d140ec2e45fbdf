// Package tree implements the engine's N-ary Tree Engine (C6): the
// directory hierarchy built on top of the Node Arena, with binary-search
// child lookup, insertion, deletion, rename, and periodic breadth-first
// re-layout. Every exported method takes care of its own per-node locking
// via internal/lockorder; callers never acquire node locks themselves.
package tree

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/syncutil"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/inodetable"
	"github.com/razorfs/razorfs/internal/lockorder"
	"github.com/razorfs/razorfs/internal/logger"
	"github.com/razorfs/razorfs/internal/nodearena"
	"github.com/razorfs/razorfs/internal/strarena"
)

// RootIndex is the node-arena index the tree expects the mount root to
// live at. The caller (internal/recovery's Open) allocates it once, immediately
// after constructing the arenas, before any other Tree method is called.
const RootIndex uint32 = 0

// Config carries the tree engine's tunables, mirroring cfg.TreeConfig.
type Config struct {
	MaxNameBytes      int
	RebalanceInterval int // 0 disables automatic rebalancing
}

// Tree ties the node arena, string arena, inode table, and lock registry
// together into the directory-hierarchy operations described in spec.md
// §4.6. It holds no tree-wide lock of its own outside of Rebalance.
type Tree struct {
	cfg   Config
	nodes *nodearena.Arena
	strs  *strarena.Arena
	ino   *inodetable.Table
	locks *lockorder.Registry

	// fsLock is the filesystem-wide lock spec.md §4.6/§5 calls for:
	// every ordinary operation holds its reader side (so many lookups,
	// inserts, and removes run concurrently), while RebalanceIfDue and
	// RebalanceNow take the writer side, guaranteeing no other tree
	// operation observes the arena mid-re-layout.
	fsLock sync.RWMutex

	// mutationCounter is guarded by fsLock's reader side being held by
	// every caller that increments it; only Rebalance (holding the
	// writer side) resets it.
	mutationCounter int

	// invariants brackets RebalanceNow's structural surgery with the same
	// checkInvariants pass the teacher lineage runs around every directory
	// mutation: cheap in production, and a loud panic under the race
	// detector (-tags invariants) if a rebalance ever leaves the arena in a
	// state that violates spec.md §3.
	invariants syncutil.InvariantMutex
}

// New creates a tree engine over the given arenas, inode table, and lock
// registry. The caller is responsible for mounting the root directory
// (index 0, inode inodetable.RootInode) before calling any other method.
func New(cfg Config, nodes *nodearena.Arena, strs *strarena.Arena, ino *inodetable.Table, locks *lockorder.Registry) *Tree {
	t := &Tree{cfg: cfg, nodes: nodes, strs: strs, ino: ino, locks: locks}
	t.invariants = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// checkInvariants re-validates spec.md §3's structural invariants over the
// current node arena: every listed child is a live node, a listed
// directory's parent pointer names the directory listing it (a file or
// symlink can be listed in several directories through LinkExisting, so
// its Parent is not compared), and every directory's child list stays
// sorted by interned name.
// It is run by the invariants mutex around RebalanceNow, the one operation
// that touches the whole arena at once.
func (t *Tree) checkInvariants() {
	nodes := t.nodes.Snapshot()
	for idx := range nodes {
		n := &nodes[idx]
		if n.IsFree() {
			continue
		}
		if uint32(idx) != RootIndex && n.Parent == nodearena.SentinelIndex {
			panic("tree: non-root node has sentinel parent")
		}
		if n.Type != nodearena.TypeDir && len(n.Children) != 0 {
			panic("tree: non-directory node has children")
		}
		var prevName []byte
		for i, childIdx := range n.Children {
			if int(childIdx) >= len(nodes) || nodes[childIdx].IsFree() {
				panic("tree: child list references a freed or out-of-range node")
			}
			child := &nodes[childIdx]
			if child.Type == nodearena.TypeDir && child.Parent != uint32(idx) {
				panic("tree: child's parent pointer does not point back to this directory")
			}
			name, err := t.strs.Get(child.NameOffset)
			if err != nil {
				panic("tree: child name offset does not resolve: " + err.Error())
			}
			if i > 0 && bytes.Compare(prevName, name) >= 0 {
				panic("tree: child list is not strictly sorted by name")
			}
			prevName = name
		}
	}
}

// NodeInit describes the fields a newly inserted node starts with. Times
// are filled in by Insert from the current wall clock.
type NodeInit struct {
	Type          nodearena.Type
	Mode          uint32
	UID           uint32
	GID           uint32
	SymlinkTarget []byte // only consulted when Type == TypeSymlink
}

func validateName(name []byte, maxBytes int) error {
	if len(name) == 0 {
		return errs.Wrap(errs.ErrInvalidName, "tree: empty path component")
	}
	if len(name) > maxBytes {
		return errs.Wrap(errs.ErrNameTooLong, "tree: path component exceeds max-name-bytes")
	}
	if bytes.IndexByte(name, '/') >= 0 || bytes.IndexByte(name, 0) >= 0 {
		return errs.Wrap(errs.ErrInvalidName, "tree: path component contains '/' or NUL")
	}
	return nil
}

// findChildLocked binary-searches parent's sorted child list for name,
// returning the insertion point, the matching child's index if found, and
// whether a match was found. The caller must hold at least a reader lock
// on the parent node.
func (t *Tree) findChildLocked(parent *nodearena.Node, name []byte) (pos int, childIdx uint32, found bool, err error) {
	n := len(parent.Children)
	var innerErr error
	pos = sort.Search(n, func(i int) bool {
		if innerErr != nil {
			return true
		}
		childName, getErr := t.childName(parent.Children[i])
		if getErr != nil {
			innerErr = getErr
			return true
		}
		return bytes.Compare(childName, name) >= 0
	})
	if innerErr != nil {
		return 0, 0, false, innerErr
	}
	if pos < n {
		childName, getErr := t.childName(parent.Children[pos])
		if getErr != nil {
			return 0, 0, false, getErr
		}
		if bytes.Equal(childName, name) {
			return pos, parent.Children[pos], true, nil
		}
	}
	return pos, 0, false, nil
}

func (t *Tree) childName(childIdx uint32) ([]byte, error) {
	child, err := t.nodes.Get(childIdx)
	if err != nil {
		return nil, err
	}
	return t.strs.Get(child.NameOffset)
}

// Lookup resolves name within parentIdx's directory, per spec.md §4.6.
func (t *Tree) Lookup(parentIdx uint32, name []byte) (uint32, error) {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.RLock(parentIdx)
	defer t.locks.RUnlock(parentIdx)

	parent, err := t.nodes.Get(parentIdx)
	if err != nil {
		return 0, err
	}
	if parent.Type != nodearena.TypeDir {
		return 0, errs.Wrap(errs.ErrNotDir, "tree: lookup on a non-directory")
	}

	_, childIdx, found, err := t.findChildLocked(parent, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errs.Wrap(errs.ErrNotFound, "tree: no such entry")
	}
	return childIdx, nil
}

// Insert creates a new node named name under parentIdx, per spec.md §4.6.
// inode must already be allocated (inodetable.AllocateInode); Insert links
// it to the new node's index as part of the same locked section.
func (t *Tree) Insert(parentIdx uint32, name []byte, inode uint64, init NodeInit) (uint32, error) {
	if err := validateName(name, t.cfg.MaxNameBytes); err != nil {
		return 0, err
	}

	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.Lock(parentIdx)
	defer t.locks.Unlock(parentIdx)

	parent, err := t.nodes.Get(parentIdx)
	if err != nil {
		return 0, err
	}
	if parent.Type != nodearena.TypeDir {
		return 0, errs.Wrap(errs.ErrNotDir, "tree: insert into a non-directory")
	}

	pos, _, found, err := t.findChildLocked(parent, name)
	if err != nil {
		return 0, err
	}
	if found {
		return 0, errs.Wrap(errs.ErrExists, "tree: entry already exists")
	}

	nameOff, err := t.strs.Intern(name)
	if err != nil {
		return 0, err
	}

	var symOff uint32
	if init.Type == nodearena.TypeSymlink {
		symOff, err = t.strs.Intern(init.SymlinkTarget)
		if err != nil {
			return 0, err
		}
	}

	childIdx, err := t.nodes.Alloc()
	if err != nil {
		return 0, err
	}

	now := time.Now().UnixNano()
	child, err := t.nodes.Get(childIdx)
	if err != nil {
		return 0, err
	}
	*child = nodearena.Node{
		Inode:         inode,
		Parent:        parentIdx,
		Type:          init.Type,
		Mode:          init.Mode,
		UID:           init.UID,
		GID:           init.GID,
		Atime:         now,
		Mtime:         now,
		Ctime:         now,
		NameOffset:    nameOff,
		LinkCount:     1,
		SymlinkTarget: symOff,
	}
	nodearena.MarkAllocated(child)

	parent.Children = insertAt(parent.Children, pos, childIdx)
	parent.Mtime = now
	parent.Ctime = now

	if err := t.ino.Link(inode, childIdx); err != nil {
		return 0, err
	}

	t.noteMutation()
	return childIdx, nil
}

// Remove deletes name from parentIdx's directory, per spec.md §4.6. It
// refuses to remove a non-empty directory. The removed node's own lock is
// taken only long enough to inspect and decrement its link count. When the
// link count reaches zero and the inode table reports no open handles
// (OpenHandles == 0), Remove unlinks the inode and frees the node itself,
// reporting freed=true.
func (t *Tree) Remove(parentIdx uint32, name []byte) (removedIdx uint32, freed bool, err error) {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.Lock(parentIdx)
	defer t.locks.Unlock(parentIdx)

	parent, err := t.nodes.Get(parentIdx)
	if err != nil {
		return 0, false, err
	}
	if parent.Type != nodearena.TypeDir {
		return 0, false, errs.Wrap(errs.ErrNotDir, "tree: remove from a non-directory")
	}

	pos, childIdx, found, err := t.findChildLocked(parent, name)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, errs.Wrap(errs.ErrNotFound, "tree: no such entry")
	}

	t.locks.Lock(childIdx)
	child, err := t.nodes.Get(childIdx)
	if err != nil {
		t.locks.Unlock(childIdx)
		return 0, false, err
	}
	if child.Type == nodearena.TypeDir && len(child.Children) > 0 {
		t.locks.Unlock(childIdx)
		return 0, false, errs.Wrap(errs.ErrNotEmpty, "tree: directory not empty")
	}

	child.LinkCount--
	now := time.Now().UnixNano()
	child.Ctime = now
	linkCount := child.LinkCount
	inode := child.Inode
	t.locks.Unlock(childIdx)

	parent.Children = removeAt(parent.Children, pos)
	parent.Mtime = now
	parent.Ctime = now

	if linkCount == 0 && t.ino.OpenHandles(childIdx) == 0 {
		if err := t.ino.Unlink(inode); err != nil {
			return 0, false, err
		}
		if err := t.nodes.Free(childIdx); err != nil {
			return 0, false, err
		}
		freed = true
	}

	t.noteMutation()
	return childIdx, freed, nil
}

func insertAt(s []uint32, pos int, v uint32) []uint32 {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func removeAt(s []uint32, pos int) []uint32 {
	copy(s[pos:], s[pos+1:])
	return s[:len(s)-1]
}

func (t *Tree) noteMutation() {
	if t.cfg.RebalanceInterval <= 0 {
		return
	}
	t.mutationCounter++
}

// MutationsSinceRebalance reports how many structural mutations have
// occurred since the last rebalance, for diagnostics and for tests.
func (t *Tree) MutationsSinceRebalance() int { return t.mutationCounter }

func (t *Tree) resetMutationCounter() { t.mutationCounter = 0 }

// Resolve walks path component-by-component from the root using lock
// coupling (internal/lockorder.Coupled), per spec.md §4.6: "." and ".."
// are handled explicitly, empty components and components containing '/'
// or NUL are rejected, and at most two node locks are held at any instant
// during the walk.
func (t *Tree) Resolve(path string) (uint32, error) {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()

	if path == "" || path == "/" {
		return RootIndex, nil
	}

	comps := strings.Split(strings.Trim(path, "/"), "/")
	cur := RootIndex
	walk := t.locks.BeginRead(cur)
	defer walk.Release()

	for _, comp := range comps {
		if comp == "" {
			return 0, errs.Wrap(errs.ErrInvalidName, "tree: empty path component")
		}
		if strings.IndexByte(comp, 0) >= 0 {
			return 0, errs.Wrap(errs.ErrInvalidName, "tree: path component contains NUL")
		}

		node, err := t.nodes.Get(cur)
		if err != nil {
			return 0, err
		}

		if comp == "." {
			continue
		}
		if comp == ".." {
			parent := node.Parent
			if parent == nodearena.SentinelIndex {
				parent = RootIndex
			}
			walk.Descend(parent)
			cur = parent
			continue
		}

		if node.Type != nodearena.TypeDir {
			return 0, errs.Wrap(errs.ErrNotDir, "tree: path component is not a directory")
		}
		_, childIdx, found, err := t.findChildLocked(node, []byte(comp))
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, errs.Wrap(errs.ErrNotFound, "tree: no such entry")
		}
		walk.Descend(childIdx)
		cur = childIdx
	}
	return cur, nil
}

// RenameFlags distinguishes replace semantics for Rename, mirroring the
// renameat2(2) RENAME_NOREPLACE flag the bridge surfaces.
type RenameFlags uint8

const (
	// RenameDefault allows the destination name to be silently replaced
	// if it already exists, matching POSIX rename(2).
	RenameDefault RenameFlags = 0
	// RenameNoReplace fails with ErrExists if the destination name is
	// already in use.
	RenameNoReplace RenameFlags = 1 << iota
)

// peekChild briefly takes parentIdx's reader lock to look up name,
// returning ErrNotFound if absent. Used to compute Rename's initial lock
// set before the locks are actually (write-)acquired.
func (t *Tree) peekChild(parentIdx uint32, name []byte) (uint32, bool, error) {
	t.locks.RLock(parentIdx)
	defer t.locks.RUnlock(parentIdx)

	parent, err := t.nodes.Get(parentIdx)
	if err != nil {
		return 0, false, err
	}
	if parent.Type != nodearena.TypeDir {
		return 0, false, errs.Wrap(errs.ErrNotDir, "tree: rename endpoint is not a directory")
	}
	_, childIdx, found, err := t.findChildLocked(parent, name)
	if err != nil {
		return 0, false, err
	}
	return childIdx, found, nil
}

// isAncestor reports whether candidate is start or one of start's
// ancestors up to the root, used by Rename's cycle-prevention check
// (spec.md §4.6). Ancestor parent pointers are read without taking the
// node's own lock: by the time Rename calls this, the moving subtree's
// root is already held under a writer lock from the caller's lock set, so
// its own Parent field cannot change concurrently, and a racing rename of
// an *unrelated* ancestor higher up is benign -- it can only ever make
// this check more conservative.
func (t *Tree) isAncestor(candidate, start uint32) (bool, error) {
	cur := start
	for {
		if cur == candidate {
			return true, nil
		}
		node, err := t.nodes.Get(cur)
		if err != nil {
			return false, err
		}
		if node.Parent == nodearena.SentinelIndex {
			return false, nil
		}
		cur = node.Parent
	}
}

// Rename atomically moves srcName out of srcParentIdx and into dstParentIdx
// as dstName, per spec.md §4.6. It computes the full lock set up front,
// acquires it in ascending node-index order (internal/lockorder), and
// retries from the top if the tree changed underneath it before the locks
// were acquired.
func (t *Tree) Rename(srcParentIdx uint32, srcName []byte, dstParentIdx uint32, dstName []byte, flags RenameFlags) error {
	if err := validateName(srcName, t.cfg.MaxNameBytes); err != nil {
		return err
	}
	if err := validateName(dstName, t.cfg.MaxNameBytes); err != nil {
		return err
	}

	t.fsLock.RLock()
	defer t.fsLock.RUnlock()

	const maxRetries = 1000
	for attempt := 0; attempt < maxRetries; attempt++ {
		srcChildIdx, found, err := t.peekChild(srcParentIdx, srcName)
		if err != nil {
			return err
		}
		if !found {
			return errs.Wrap(errs.ErrNotFound, "tree: rename source does not exist")
		}
		dstChildIdx, dstExists, err := t.peekChild(dstParentIdx, dstName)
		if err != nil {
			return err
		}

		idxs := []uint32{srcParentIdx, dstParentIdx, srcChildIdx}
		if dstExists {
			idxs = append(idxs, dstChildIdx)
		}
		set := lockorder.NewLockSet(idxs...)
		release := t.locks.AcquireWrite(set)

		ok, err := t.renameLocked(srcParentIdx, srcName, srcChildIdx, dstParentIdx, dstName, dstChildIdx, dstExists, flags)
		release()
		if err != nil {
			return err
		}
		if ok {
			t.noteMutation()
			return nil
		}
		// The tree changed between peek and lock acquisition (e.g. a
		// concurrent rename/unlink touched one of the peeked indices).
		// Retry from the top, per spec.md §4.5.
		logger.Debugf("tree: rename retry %d (lock set stale)", attempt)
	}
	return errs.Wrap(errs.ErrInvalid, "tree: rename did not converge after retries")
}

// renameLocked performs the actual move once every involved node's writer
// lock is held. It returns ok=false (no error) when the pre-computed
// indices turned out to be stale, asking the caller to retry.
func (t *Tree) renameLocked(srcParentIdx uint32, srcName []byte, srcChildIdx uint32, dstParentIdx uint32, dstName []byte, dstChildIdx uint32, dstExists bool, flags RenameFlags) (ok bool, err error) {
	srcParent, err := t.nodes.Get(srcParentIdx)
	if err != nil {
		return false, err
	}
	srcPos, curSrcChildIdx, found, err := t.findChildLocked(srcParent, srcName)
	if err != nil {
		return false, err
	}
	if !found || curSrcChildIdx != srcChildIdx {
		return false, nil
	}

	dstParent, err := t.nodes.Get(dstParentIdx)
	if err != nil {
		return false, err
	}
	dstPos, curDstChildIdx, dstFound, err := t.findChildLocked(dstParent, dstName)
	if err != nil {
		return false, err
	}
	if dstFound != dstExists || (dstFound && curDstChildIdx != dstChildIdx) {
		return false, nil
	}
	if dstFound && flags&RenameNoReplace != 0 {
		return false, errs.Wrap(errs.ErrExists, "tree: rename destination already exists")
	}

	srcChild, err := t.nodes.Get(srcChildIdx)
	if err != nil {
		return false, err
	}

	if bytes.Equal(srcName, dstName) && srcParentIdx == dstParentIdx {
		// No-op rename onto itself: spec.md §8's "rename(a->b); rename(b->a)
		// is a no-op on the tree structure" scenario relies on this.
		return true, nil
	}

	if srcParentIdx != dstParentIdx && srcChild.Type == nodearena.TypeDir {
		isLoop, err := t.isAncestor(srcChildIdx, dstParentIdx)
		if err != nil {
			return false, err
		}
		if isLoop {
			return false, errs.Wrap(errs.ErrLoop, "tree: rename would create a cycle")
		}
	}

	now := time.Now().UnixNano()

	if dstFound {
		dstChild, err := t.nodes.Get(dstChildIdx)
		if err != nil {
			return false, err
		}
		if dstChild.Type == nodearena.TypeDir {
			if len(dstChild.Children) > 0 {
				return false, errs.Wrap(errs.ErrNotEmpty, "tree: rename destination directory not empty")
			}
			if srcChild.Type != nodearena.TypeDir {
				return false, errs.Wrap(errs.ErrIsDir, "tree: rename destination is a directory")
			}
		} else if srcChild.Type == nodearena.TypeDir {
			return false, errs.Wrap(errs.ErrNotDir, "tree: rename destination is not a directory")
		}

		dstChild.LinkCount--
		dstChild.Ctime = now
		dstLinkCount := dstChild.LinkCount
		dstInode := dstChild.Inode
		dstParent.Children = removeAt(dstParent.Children, dstPos)
		if dstPos < srcPos && srcParentIdx == dstParentIdx {
			srcPos--
		}

		if dstLinkCount == 0 && t.ino.OpenHandles(dstChildIdx) == 0 {
			if err := t.ino.Unlink(dstInode); err != nil {
				return false, err
			}
			if err := t.nodes.Free(dstChildIdx); err != nil {
				return false, err
			}
		}
	}

	nameOff, err := t.strs.Intern(dstName)
	if err != nil {
		return false, err
	}

	if srcParentIdx == dstParentIdx {
		srcParent.Children = removeAt(srcParent.Children, srcPos)
		insertPos := sort.Search(len(srcParent.Children), func(i int) bool {
			childName, _ := t.childName(srcParent.Children[i])
			return bytes.Compare(childName, dstName) >= 0
		})
		srcParent.Children = insertAt(srcParent.Children, insertPos, srcChildIdx)
		srcParent.Mtime = now
		srcParent.Ctime = now
	} else {
		srcParent.Children = removeAt(srcParent.Children, srcPos)
		srcParent.Mtime = now
		srcParent.Ctime = now

		insertPos := sort.Search(len(dstParent.Children), func(i int) bool {
			childName, _ := t.childName(dstParent.Children[i])
			return bytes.Compare(childName, dstName) >= 0
		})
		dstParent.Children = insertAt(dstParent.Children, insertPos, srcChildIdx)
		dstParent.Mtime = now
		dstParent.Ctime = now
	}

	srcChild.Parent = dstParentIdx
	srcChild.NameOffset = nameOff
	srcChild.Ctime = now

	return true, nil
}

// RebalanceIfDue runs RebalanceNow if the configured mutation threshold
// (Config.RebalanceInterval) has been reached since the last rebalance.
// Per spec.md §4.6, correctness never depends on when -- or whether -- this
// runs; it exists purely for Node Arena cache locality.
func (t *Tree) RebalanceIfDue() error {
	if t.cfg.RebalanceInterval <= 0 {
		return nil
	}
	t.fsLock.RLock()
	due := t.mutationCounter >= t.cfg.RebalanceInterval
	t.fsLock.RUnlock()
	if !due {
		return nil
	}
	return t.RebalanceNow()
}

// RebalanceNow performs a breadth-first re-layout of the Node Arena,
// remapping every index (parent pointers, child lists, and the inode
// table's inode-to-index entries with their open-handle counts) so that nodes
// end up in ascending-BFS order. It holds the filesystem-wide writer lock
// for its entire duration, per spec.md §4.6 and §5 -- the only operation
// that does so -- and is idempotent: running it twice in a row with no
// intervening mutation produces the same layout again.
func (t *Tree) RebalanceNow() error {
	t.fsLock.Lock()
	defer t.fsLock.Unlock()
	t.invariants.Lock()
	defer t.invariants.Unlock()

	nodes := t.nodes.Snapshot()
	if len(nodes) == 0 {
		return nil
	}

	oldToNew := make([]uint32, len(nodes))
	for i := range oldToNew {
		oldToNew[i] = nodearena.SentinelIndex
	}

	order := make([]uint32, 0, len(nodes))
	queue := []uint32{RootIndex}
	oldToNew[RootIndex] = 0
	order = append(order, RootIndex)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		node := nodes[cur]
		if node.IsFree() {
			continue
		}
		for _, child := range node.Children {
			if oldToNew[child] != nodearena.SentinelIndex {
				continue // already visited; tolerates a malformed duplicate rather than looping forever
			}
			oldToNew[child] = uint32(len(order))
			order = append(order, child)
			queue = append(queue, child)
		}
	}

	// Any allocated node unreachable from the root (should not happen
	// under the invariants in spec.md §3, but rebalance is also the
	// engine's consistency-repair pass after WAL replay) is appended after
	// the BFS-reachable set so no live node is silently dropped.
	for idx := range nodes {
		if nodes[idx].IsFree() {
			continue
		}
		if oldToNew[idx] == nodearena.SentinelIndex {
			oldToNew[idx] = uint32(len(order))
			order = append(order, uint32(idx))
		}
	}

	newNodes := make([]nodearena.Node, len(order))
	for newIdx, oldIdx := range order {
		n := nodes[oldIdx]
		if n.Parent != nodearena.SentinelIndex {
			n.Parent = oldToNew[n.Parent]
		}
		remapped := make([]uint32, len(n.Children))
		for i, c := range n.Children {
			remapped[i] = oldToNew[c]
		}
		n.Children = remapped
		newNodes[newIdx] = n
	}

	// Freed slots are appended at the end with a free-list threaded
	// through them, exactly like a fresh arena's layout.
	freeHead := nodearena.SentinelIndex
	for idx := len(nodes) - 1; idx >= 0; idx-- {
		if !nodes[idx].IsFree() {
			continue
		}
		newNodes = append(newNodes, nodearena.Node{Parent: freeHead})
		freeHead = uint32(len(newNodes) - 1)
	}

	// Move every live node's inode-table entry and handle count to its new index.
	handles := make([]uint64, len(order))
	for i, oldIdx := range order {
		handles[i] = t.ino.OpenHandles(oldIdx)
		_ = t.ino.Unlink(nodes[oldIdx].Inode)
	}
	for newIdx, oldIdx := range order {
		if err := t.ino.Link(nodes[oldIdx].Inode, uint32(newIdx)); err != nil {
			return err
		}
		for n := handles[newIdx]; n > 0; n-- {
			_ = t.ino.Incref(uint32(newIdx))
		}
	}

	t.nodes.Restore(newNodes, freeHead)
	t.locks = lockorder.New()
	t.resetMutationCounter()
	logger.Debugf("tree: rebalance complete, %d live nodes", len(order))
	return nil
}
