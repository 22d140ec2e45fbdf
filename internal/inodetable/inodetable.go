// Package inodetable implements the engine's Inode Table (C3): the
// bidirectional map between 64-bit inode numbers and node-arena indices,
// plus an open-handle reference count per index. Directory-entry link
// counting lives on the node record itself (internal/nodearena); what this
// package tracks is the kernel-facing "lookup count" -- the number of
// outstanding handles a caller has asked the engine to keep alive, mirroring
// the destroy-on-zero bookkeeping in the teacher lineage's lookupCount
// helper.
package inodetable

import (
	"fmt"
	"sync"

	"github.com/razorfs/razorfs/internal/errs"
)

// RootInode is the well-known inode number of the mount root.
const RootInode uint64 = 1

type refCount struct {
	count uint64
}

// Table is safe for concurrent use; all operations are serialized by a
// single lock, held only for the duration of the map operation itself.
type Table struct {
	mu sync.Mutex

	byInode map[uint64]uint32
	byIndex map[uint32]uint64
	refs    map[uint32]*refCount

	// next is the next-never-used inode number counter. This implementation
	// takes the conservative option the spec allows: inode numbers are
	// never reused within a mount session, even after the owning node is
	// freed.
	next uint64
}

// New creates an empty table. The caller is expected to Link the root
// directory's node index under RootInode immediately after mount.
func New() *Table {
	return &Table{
		byInode: make(map[uint64]uint32),
		byIndex: make(map[uint32]uint64),
		refs:    make(map[uint32]*refCount),
		next:    RootInode,
	}
}

// AllocateInode reserves the next-never-used inode number. It does not
// link it to a node index; call Link separately once the node exists.
func (t *Table) AllocateInode() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	inode := t.next
	t.next++
	return inode
}

// Link records that inode maps to index (and vice versa).
func (t *Table) Link(inode uint64, index uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byInode[inode]; ok && existing != index {
		return errs.Wrap(errs.ErrInvalid, "inodetable: inode already mapped to a different index")
	}

	t.byInode[inode] = index
	t.byIndex[index] = inode
	if _, ok := t.refs[index]; !ok {
		t.refs[index] = &refCount{}
	}
	return nil
}

// Unlink removes inode's mapping entirely. It does not itself free the
// backing node; callers free the node once the tree engine has removed
// every directory entry referencing it.
func (t *Table) Unlink(inode uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	index, ok := t.byInode[inode]
	if !ok {
		return errs.Wrap(errs.ErrNotFound, "inodetable: unknown inode")
	}
	delete(t.byInode, inode)
	delete(t.byIndex, index)
	delete(t.refs, index)
	return nil
}

// LookupByInode resolves an inode number to its node-arena index.
func (t *Table) LookupByInode(inode uint64) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.byInode[inode]
	if !ok {
		return 0, errs.Wrap(errs.ErrNotFound, "inodetable: unknown inode")
	}
	return idx, nil
}

// LookupByIndex resolves a node-arena index back to its inode number.
func (t *Table) LookupByIndex(index uint32) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inode, ok := t.byIndex[index]
	if !ok {
		return 0, errs.Wrap(errs.ErrNotFound, "inodetable: unknown index")
	}
	return inode, nil
}

// Incref increments index's open-handle count. For use in engine
// operations where the bridge expects the inode to remain resolvable
// until a matching Decref.
func (t *Table) Incref(index uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rc, ok := t.refs[index]
	if !ok {
		return errs.Wrap(errs.ErrNotFound, "inodetable: unknown index")
	}
	rc.count++
	return nil
}

// Decref decrements index's open-handle count by n and reports the new
// value. It panics if n exceeds the current count, mirroring the teacher
// lineage's lookupCount.Dec -- an out-of-range decrement means the bridge
// and engine have lost sync on outstanding handles, which is a programming
// error, not a recoverable one.
func (t *Table) Decref(index uint32, n uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rc, ok := t.refs[index]
	if !ok {
		return 0, errs.Wrap(errs.ErrNotFound, "inodetable: unknown index")
	}
	if n > rc.count {
		panic(fmt.Sprintf("inodetable: decref %d exceeds current count %d for index %d", n, rc.count, index))
	}
	rc.count -= n
	return rc.count, nil
}

// Observe advances the next-never-used inode counter past inode, so a
// freshly reloaded table never reissues an inode number recovery has just
// relinked from persisted or replayed state.
func (t *Table) Observe(inode uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inode >= t.next {
		t.next = inode + 1
	}
}

// OpenHandles reports index's current open-handle count, used by the tree
// engine to decide whether a zero-link-count node can be freed immediately
// or must wait for the last handle to close.
func (t *Table) OpenHandles(index uint32) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rc, ok := t.refs[index]
	if !ok {
		return 0
	}
	return rc.count
}
