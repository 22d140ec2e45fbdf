package tree

import (
	"time"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/lockorder"
	"github.com/razorfs/razorfs/internal/nodearena"
)

// Attr is the subset of a node's fields the bridge needs for getattr,
// copied out from under the node's lock so callers never retain a pointer
// into the arena.
type Attr struct {
	Inode     uint64
	Type      nodearena.Type
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      uint64
	Atime     int64
	Mtime     int64
	Ctime     int64
	LinkCount uint16
}

// GetAttr returns idx's current attributes under its reader lock.
func (t *Tree) GetAttr(idx uint32) (Attr, error) {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.RLock(idx)
	defer t.locks.RUnlock(idx)

	n, err := t.nodes.Get(idx)
	if err != nil {
		return Attr{}, err
	}
	return Attr{
		Inode: n.Inode, Type: n.Type, Mode: n.Mode, UID: n.UID, GID: n.GID,
		Size: n.Size, Atime: n.Atime, Mtime: n.Mtime, Ctime: n.Ctime,
		LinkCount: n.LinkCount,
	}, nil
}

// AttrChanges carries the fields setattr wants to modify; a nil pointer
// leaves the corresponding field untouched, mirroring the bridge's
// to-set bitmask convention.
type AttrChanges struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *int64
	Mtime *int64
}

// SetAttr applies changes to idx under its writer lock and always bumps
// ctime, per POSIX setattr semantics.
func (t *Tree) SetAttr(idx uint32, changes AttrChanges, now int64) error {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.Lock(idx)
	defer t.locks.Unlock(idx)

	n, err := t.nodes.Get(idx)
	if err != nil {
		return err
	}
	if changes.Mode != nil {
		n.Mode = *changes.Mode
	}
	if changes.UID != nil {
		n.UID = *changes.UID
	}
	if changes.GID != nil {
		n.GID = *changes.GID
	}
	if changes.Size != nil {
		if n.Type != nodearena.TypeFile {
			return errs.Wrap(errs.ErrInvalid, "tree: size is only settable on regular files")
		}
		n.Size = *changes.Size
	}
	if changes.Atime != nil {
		n.Atime = *changes.Atime
	}
	if changes.Mtime != nil {
		n.Mtime = *changes.Mtime
	}
	n.Ctime = now
	return nil
}

// XattrHead returns idx's current xattr chain head under its reader lock.
func (t *Tree) XattrHead(idx uint32) (uint32, error) {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.RLock(idx)
	defer t.locks.RUnlock(idx)

	n, err := t.nodes.Get(idx)
	if err != nil {
		return 0, err
	}
	return n.XattrHead, nil
}

// SetXattrHead stores a new xattr chain head (returned by internal/xattr's
// Set/Remove) back onto idx under its writer lock, bumping ctime.
func (t *Tree) SetXattrHead(idx uint32, head uint32, now int64) error {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.Lock(idx)
	defer t.locks.Unlock(idx)

	n, err := t.nodes.Get(idx)
	if err != nil {
		return err
	}
	n.XattrHead = head
	n.Ctime = now
	return nil
}

// SymlinkTarget returns the interned target of a symlink node.
func (t *Tree) SymlinkTarget(idx uint32) ([]byte, error) {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.RLock(idx)

	n, err := t.nodes.Get(idx)
	if err != nil {
		t.locks.RUnlock(idx)
		return nil, err
	}
	if n.Type != nodearena.TypeSymlink {
		t.locks.RUnlock(idx)
		return nil, errs.Wrap(errs.ErrInvalid, "tree: not a symlink")
	}
	off := n.SymlinkTarget
	t.locks.RUnlock(idx)

	return t.strs.Get(off)
}

// LinkExisting adds a new directory entry for an already-existing node
// (hardlink), bumping its link count instead of allocating a fresh one.
// Per spec.md §4.6/§6's `link` operation.
func (t *Tree) LinkExisting(parentIdx uint32, name []byte, targetIdx uint32) error {
	if err := validateName(name, t.cfg.MaxNameBytes); err != nil {
		return err
	}

	t.fsLock.RLock()
	defer t.fsLock.RUnlock()

	set := lockorder.NewLockSet(parentIdx, targetIdx)
	release := t.locks.AcquireWrite(set)
	defer release()

	parent, err := t.nodes.Get(parentIdx)
	if err != nil {
		return err
	}
	if parent.Type != nodearena.TypeDir {
		return errs.Wrap(errs.ErrNotDir, "tree: link into a non-directory")
	}
	pos, _, found, err := t.findChildLocked(parent, name)
	if err != nil {
		return err
	}
	if found {
		return errs.Wrap(errs.ErrExists, "tree: entry already exists")
	}
	target, err := t.nodes.Get(targetIdx)
	if err != nil {
		return err
	}
	if target.Type == nodearena.TypeDir {
		return errs.Wrap(errs.ErrIsDir, "tree: hardlinks to directories are not supported")
	}

	now := time.Now().UnixNano()
	target.LinkCount++
	target.Ctime = now

	parent.Children = insertAt(parent.Children, pos, targetIdx)
	parent.Mtime = now
	parent.Ctime = now

	t.noteMutation()
	return nil
}

// Snapshot returns a copy of every node in the arena, for callers (the
// rebalance pass, the recovery engine's checkpoint and consistency check)
// that need to walk the whole tree structure at once rather than node by
// node.
func (t *Tree) Snapshot() []nodearena.Node {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	return t.nodes.Snapshot()
}

// FreeHead returns the node arena's current free-list head, for
// internal/shm persistence.
func (t *Tree) FreeHead() uint32 {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	return t.nodes.FreeHead()
}

// StringBytes returns the string arena's raw backing bytes, for
// internal/shm persistence.
func (t *Tree) StringBytes() []byte {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	return t.strs.Bytes()
}

// DirEntry is one directory listing row, per spec.md §6's readdir.
type DirEntry struct {
	Name  []byte
	Inode uint64
	Type  nodearena.Type
}

// ReadDir returns up to limit entries of dirIdx's child list starting at
// cursor (an opaque position into the current sorted child vector) and the
// cursor to resume from. Per spec.md §6, iteration is stable across
// concurrent non-structural mutation but entries added or removed during
// iteration may or may not appear -- this implementation re-reads the live
// child list on every call, which satisfies that contract without needing
// its own snapshot.
func (t *Tree) ReadDir(dirIdx uint32, cursor int, limit int) ([]DirEntry, int, error) {
	t.fsLock.RLock()
	defer t.fsLock.RUnlock()
	t.locks.RLock(dirIdx)
	defer t.locks.RUnlock(dirIdx)

	dir, err := t.nodes.Get(dirIdx)
	if err != nil {
		return nil, cursor, err
	}
	if dir.Type != nodearena.TypeDir {
		return nil, cursor, errs.Wrap(errs.ErrNotDir, "tree: readdir on a non-directory")
	}
	if cursor < 0 || cursor > len(dir.Children) {
		return nil, cursor, errs.Wrap(errs.ErrInvalid, "tree: cursor out of range")
	}

	end := len(dir.Children)
	if limit > 0 && cursor+limit < end {
		end = cursor + limit
	}

	entries := make([]DirEntry, 0, end-cursor)
	for _, childIdx := range dir.Children[cursor:end] {
		child, err := t.nodes.Get(childIdx)
		if err != nil {
			return nil, cursor, err
		}
		name, err := t.strs.Get(child.NameOffset)
		if err != nil {
			return nil, cursor, err
		}
		entries = append(entries, DirEntry{Name: name, Inode: child.Inode, Type: child.Type})
	}
	return entries, end, nil
}
