// Package engine implements the stable operation surface a filesystem
// bridge (FUSE or otherwise) calls into. It wires the recovery engine's
// mounted components together into named operations, framing every
// mutation as a write-ahead-logged transaction: apply the in-memory
// change, append and durably commit its redo record, and roll the
// mutation back if the commit itself fails. It also reports engine-level
// metrics and stats alongside its filesystem callbacks.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/razorfs/razorfs/cfg"
	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/logger"
	"github.com/razorfs/razorfs/internal/metrics"
	"github.com/razorfs/razorfs/internal/nodearena"
	"github.com/razorfs/razorfs/internal/recovery"
	"github.com/razorfs/razorfs/internal/tree"
	"github.com/razorfs/razorfs/internal/wal"
	"github.com/razorfs/razorfs/internal/xattr"
)

// Handle is the engine handle Mount returns: the bridge holds
// one of these and threads it through every call. The engine keeps no
// process-wide state beyond what a Handle references.
type Handle struct {
	mounted   *recovery.Mounted
	metrics   metrics.Handle
	sessionID uuid.UUID

	walCommits int64
	walAborts  int64
}

// Option configures optional Handle behavior at Mount time.
type Option func(*Handle)

// WithMetrics wires an engine-level metrics.Handle (an OTel-backed one from
// metrics.New, or metrics.NewNoop) in place of the silent default.
func WithMetrics(m metrics.Handle) Option {
	return func(h *Handle) { h.metrics = m }
}

// Mount opens or creates the configured arenas, runs crash recovery, and
// returns a ready-to-use handle. Each mount gets a fresh session
// identifier, attached to every WAL transaction's log line for
// diagnostics -- the fixed on-disk WAL record layout has no
// room for it, so it travels as a structured logging field instead of a
// wire-format one (see DESIGN.md).
func Mount(c cfg.Config, opts ...Option) (*Handle, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	m, err := recovery.Open(c)
	if err != nil {
		return nil, err
	}

	h := &Handle{mounted: m, metrics: metrics.NewNoop(), sessionID: uuid.New()}
	for _, opt := range opts {
		opt(h)
	}

	h.metrics.RecoveryReplay(context.Background(), int64(m.Stats.Replayed), int64(m.Stats.Discarded))
	logger.Infof("engine: mount session=%s replayed=%d discarded=%d", h.sessionID, m.Stats.Replayed, m.Stats.Discarded)
	return h, nil
}

// Unmount quiesces the mount: a final checkpoint flushes the arenas and
// xattr/block sidecars and truncates the WAL, then every backing file is
// closed.
func (h *Handle) Unmount() error {
	if err := h.mounted.Checkpoint(); err != nil {
		return err
	}
	logger.Infof("engine: unmount session=%s", h.sessionID)
	return h.mounted.Close()
}

func (h *Handle) resolve(inode uint64) (uint32, error) {
	return h.mounted.Inodes.LookupByInode(inode)
}

type subOp struct {
	typ     wal.RecordType
	inode   uint64
	payload []byte
}

// commitTxn frames one or more sub-operation records as a single BEGIN ...
// COMMIT transaction, keyed by beginInode (the inode the bridge is acting
// on -- the parent for create-like operations, the file itself for
// write-like ones). The caller has already applied the mutation(s) to the
// in-memory arenas; commitTxn's only job is making them durable.
func (h *Handle) commitTxn(beginInode uint64, ops []subOp) error {
	start := time.Now()
	tx, err := h.mounted.WAL.Begin(beginInode)
	if err != nil {
		return err
	}
	logger.Tracef("engine: session=%s tx=%d begin inode=%d", h.sessionID, tx.ID(), beginInode)

	for _, op := range ops {
		if err := tx.Append(op.typ, op.inode, op.payload); err != nil {
			_ = tx.Abort()
			h.walAborts++
			h.metrics.WALAbort(context.Background())
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		h.walAborts++
		h.metrics.WALAbort(context.Background())
		return err
	}
	h.walCommits++
	h.metrics.WALCommit(context.Background(), time.Since(start))
	return nil
}

func (h *Handle) commitOne(recType wal.RecordType, inode uint64, payload []byte) error {
	return h.commitTxn(inode, []subOp{{typ: recType, inode: inode, payload: payload}})
}

// maybeRebalance gives RebalanceIfDue a chance to run after a structural
// mutation and records it when it actually ran one, for Metrics().
func (h *Handle) maybeRebalance() {
	before := h.mounted.Tree.MutationsSinceRebalance()
	if err := h.mounted.Tree.RebalanceIfDue(); err != nil {
		logger.Warnf("engine: rebalance failed: %v", err)
		return
	}
	if h.mounted.Tree.MutationsSinceRebalance() < before {
		h.metrics.RebalanceCount(context.Background(), 1)
	}
}

// GetAttr returns inode's attributes.
func (h *Handle) GetAttr(inode uint64) (tree.Attr, error) {
	idx, err := h.resolve(inode)
	if err != nil {
		return tree.Attr{}, err
	}
	return h.mounted.Tree.GetAttr(idx)
}

// Lookup resolves name within parentInode's directory.
func (h *Handle) Lookup(parentInode uint64, name string) (uint64, error) {
	parentIdx, err := h.resolve(parentInode)
	if err != nil {
		return 0, err
	}
	childIdx, err := h.mounted.Tree.Lookup(parentIdx, []byte(name))
	if err != nil {
		return 0, err
	}
	return h.mounted.Inodes.LookupByIndex(childIdx)
}

// DirEntry is one readdir row, translated from tree.DirEntry's node-arena
// index back into the inode number the bridge deals in.
type DirEntry struct {
	Name  string
	Inode uint64
	Type  nodearena.Type
}

// ReadDir lists inode's directory entries starting at cursor.
func (h *Handle) ReadDir(inode uint64, cursor int, limit int) ([]DirEntry, int, error) {
	idx, err := h.resolve(inode)
	if err != nil {
		return nil, cursor, err
	}
	rows, next, err := h.mounted.Tree.ReadDir(idx, cursor, limit)
	if err != nil {
		return nil, cursor, err
	}
	out := make([]DirEntry, len(rows))
	for i, r := range rows {
		out[i] = DirEntry{Name: string(r.Name), Inode: r.Inode, Type: r.Type}
	}
	return out, next, nil
}

func (h *Handle) createEntry(parentInode uint64, name string, mode uint32, uid, gid uint32, typ nodearena.Type, recType wal.RecordType) (uint64, error) {
	parentIdx, err := h.resolve(parentInode)
	if err != nil {
		return 0, err
	}

	inode := h.mounted.Inodes.AllocateInode()
	_, err = h.mounted.Tree.Insert(parentIdx, []byte(name), inode, tree.NodeInit{Type: typ, Mode: mode, UID: uid, GID: gid})
	if err != nil {
		return 0, err
	}

	payload := wal.EncodeCreate(wal.CreatePayload{
		Name: []byte(name), IsDir: typ == nodearena.TypeDir, Mode: mode, UID: uid, GID: gid, ResultInode: inode,
	})
	if err := h.commitOne(recType, parentInode, payload); err != nil {
		if _, _, rbErr := h.mounted.Tree.Remove(parentIdx, []byte(name)); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted create failed: %v", rbErr)
		}
		return 0, err
	}

	h.maybeRebalance()
	return inode, nil
}

// Create creates a regular file named name under parentInode.
func (h *Handle) Create(parentInode uint64, name string, mode uint32, uid, gid uint32) (uint64, error) {
	return h.createEntry(parentInode, name, mode, uid, gid, nodearena.TypeFile, wal.RecordCreate)
}

// Mkdir creates a directory named name under parentInode.
func (h *Handle) Mkdir(parentInode uint64, name string, mode uint32, uid, gid uint32) (uint64, error) {
	return h.createEntry(parentInode, name, mode, uid, gid, nodearena.TypeDir, wal.RecordMkdir)
}

// Symlink creates a symlink named name under parentInode pointing at
// target. The node record's Type carries TypeSymlink; it is created the
// same way as Create/Mkdir, reusing the CREATE WAL record with the target
// path folded into the name's sibling Mode field being unused for
// symlinks -- the target itself lives in the tree's SymlinkTarget offset,
// populated by tree.Insert from NodeInit.SymlinkTarget, so replay simply
// needs the same Insert call with the same target bytes encoded alongside
// the name.
func (h *Handle) Symlink(parentInode uint64, name string, target string, uid, gid uint32) (uint64, error) {
	parentIdx, err := h.resolve(parentInode)
	if err != nil {
		return 0, err
	}

	inode := h.mounted.Inodes.AllocateInode()
	_, err = h.mounted.Tree.Insert(parentIdx, []byte(name), inode, tree.NodeInit{
		Type: nodearena.TypeSymlink, Mode: 0o777, UID: uid, GID: gid, SymlinkTarget: []byte(target),
	})
	if err != nil {
		return 0, err
	}

	payload := wal.EncodeCreate(wal.CreatePayload{Name: []byte(name), Mode: 0o777, UID: uid, GID: gid, ResultInode: inode})
	if err := h.commitOne(wal.RecordCreate, parentInode, payload); err != nil {
		if _, _, rbErr := h.mounted.Tree.Remove(parentIdx, []byte(name)); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted symlink failed: %v", rbErr)
		}
		return 0, err
	}

	h.maybeRebalance()
	return inode, nil
}

// ReadLink returns a symlink's target, not one of the named operations but
// needed by any bridge that creates symlinks.
func (h *Handle) ReadLink(inode uint64) (string, error) {
	idx, err := h.resolve(inode)
	if err != nil {
		return "", err
	}
	target, err := h.mounted.Tree.SymlinkTarget(idx)
	if err != nil {
		return "", err
	}
	return string(target), nil
}

func (h *Handle) removeEntry(parentInode uint64, name string, wantDir bool, recType wal.RecordType) error {
	parentIdx, err := h.resolve(parentInode)
	if err != nil {
		return err
	}
	childIdx, err := h.mounted.Tree.Lookup(parentIdx, []byte(name))
	if err != nil {
		return err
	}
	attr, err := h.mounted.Tree.GetAttr(childIdx)
	if err != nil {
		return err
	}
	isDir := attr.Type == nodearena.TypeDir
	if wantDir && !isDir {
		return errs.Wrap(errs.ErrNotDir, "engine: rmdir on a non-directory")
	}
	if !wantDir && isDir {
		return errs.Wrap(errs.ErrIsDir, "engine: unlink on a directory")
	}

	_, freed, err := h.mounted.Tree.Remove(parentIdx, []byte(name))
	if err != nil {
		return err
	}

	payload := wal.EncodeUnlink(wal.UnlinkPayload{Name: []byte(name)})
	if err := h.commitOne(recType, parentInode, payload); err != nil {
		if freed {
			// The backing node was already recycled; the in-memory state
			// cannot be un-recycled cleanly, so the mutation stands despite
			// the uncommitted log record. A subsequent checkpoint will
			// persist the post-remove state regardless, so the filesystem
			// stays internally consistent even though this one call
			// reports an error to its caller. See DESIGN.md.
			logger.Errorf("engine: unrecoverable rollback after freed node %d: %v", childIdx, err)
			return err
		}
		if rbErr := h.mounted.Tree.LinkExisting(parentIdx, []byte(name), childIdx); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted remove failed: %v", rbErr)
		}
		return err
	}

	h.maybeRebalance()
	return nil
}

// Unlink removes a non-directory entry.
func (h *Handle) Unlink(parentInode uint64, name string) error {
	return h.removeEntry(parentInode, name, false, wal.RecordUnlink)
}

// Rmdir removes an empty directory entry.
func (h *Handle) Rmdir(parentInode uint64, name string) error {
	return h.removeEntry(parentInode, name, true, wal.RecordRmdir)
}

// Rename moves srcName out of srcParentInode into dstParentInode as
// dstName.
func (h *Handle) Rename(srcParentInode uint64, srcName string, dstParentInode uint64, dstName string, flags tree.RenameFlags) error {
	srcParentIdx, err := h.resolve(srcParentInode)
	if err != nil {
		return err
	}
	dstParentIdx, err := h.resolve(dstParentInode)
	if err != nil {
		return err
	}

	if err := h.mounted.Tree.Rename(srcParentIdx, []byte(srcName), dstParentIdx, []byte(dstName), flags); err != nil {
		return err
	}

	payload := wal.EncodeRename(wal.RenamePayload{
		SrcName: []byte(srcName), DstParentInode: dstParentInode, DstName: []byte(dstName),
		NoReplace: flags&tree.RenameNoReplace != 0,
	})
	if err := h.commitOne(wal.RecordRename, srcParentInode, payload); err != nil {
		if rbErr := h.mounted.Tree.Rename(dstParentIdx, []byte(dstName), srcParentIdx, []byte(srcName), tree.RenameDefault); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted rename failed: %v", rbErr)
		}
		return err
	}

	h.maybeRebalance()
	return nil
}

// Link adds a hardlink to an existing inode under a new parent/name.
func (h *Handle) Link(inode uint64, newParentInode uint64, newName string) error {
	targetIdx, err := h.resolve(inode)
	if err != nil {
		return err
	}
	parentIdx, err := h.resolve(newParentInode)
	if err != nil {
		return err
	}

	if err := h.mounted.Tree.LinkExisting(parentIdx, []byte(newName), targetIdx); err != nil {
		return err
	}

	payload := wal.EncodeLink(wal.LinkPayload{Name: []byte(newName), TargetInode: inode})
	if err := h.commitOne(wal.RecordLink, newParentInode, payload); err != nil {
		if _, _, rbErr := h.mounted.Tree.Remove(parentIdx, []byte(newName)); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted link failed: %v", rbErr)
		}
		return err
	}

	h.maybeRebalance()
	return nil
}

// Read returns up to length bytes of inode's content starting at offset.
// Reading past the end of the file, or an empty file, returns zero bytes
// with no error.
func (h *Handle) Read(inode uint64, offset int64, length int) ([]byte, error) {
	attr, err := h.GetAttr(inode)
	if err != nil {
		return nil, err
	}
	if attr.Type != nodearena.TypeFile {
		return nil, errs.Wrap(errs.ErrIsDir, "engine: read on a non-regular file")
	}
	if offset < 0 {
		return nil, errs.Wrap(errs.ErrInvalid, "engine: negative offset")
	}
	if offset >= int64(attr.Size) {
		return nil, nil
	}
	if remain := int64(attr.Size) - offset; int64(length) > remain {
		length = int(remain)
	}

	buf := make([]byte, length)
	n, err := h.mounted.Blocks.Read(inode, offset, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write stores data at offset in inode's content, growing the file and
// zero-filling any gap as needed.
func (h *Handle) Write(inode uint64, offset int64, data []byte) (int, error) {
	idx, err := h.resolve(inode)
	if err != nil {
		return 0, err
	}
	attr, err := h.mounted.Tree.GetAttr(idx)
	if err != nil {
		return 0, err
	}
	if attr.Type != nodearena.TypeFile {
		return 0, errs.Wrap(errs.ErrIsDir, "engine: write on a non-regular file")
	}

	oldSize := attr.Size
	newSize := oldSize
	if end := uint64(offset) + uint64(len(data)); end > newSize {
		newSize = end
	}

	if err := h.mounted.Blocks.Write(inode, offset, data); err != nil {
		return 0, err
	}
	now := time.Now().UnixNano()
	if err := h.mounted.Tree.SetAttr(idx, tree.AttrChanges{Size: &newSize, Mtime: &now}, now); err != nil {
		return 0, err
	}

	writePayload := wal.EncodeWrite(wal.WritePayload{Offset: uint64(offset), Data: data})
	attrPayload := wal.EncodeSetattr(wal.SetattrPayload{FieldMask: wal.SetattrSize | wal.SetattrMtime, Size: newSize, Mtime: now})
	ops := []subOp{
		{typ: wal.RecordWrite, inode: inode, payload: writePayload},
		{typ: wal.RecordSetattr, inode: inode, payload: attrPayload},
	}
	if err := h.commitTxn(inode, ops); err != nil {
		if rbErr := h.mounted.Blocks.Truncate(inode, int64(oldSize)); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted write failed: %v", rbErr)
		}
		if rbErr := h.mounted.Tree.SetAttr(idx, tree.AttrChanges{Size: &oldSize}, now); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted write's size failed: %v", rbErr)
		}
		return 0, err
	}

	h.maybeRebalance()
	if ratio, ok := h.mounted.Blocks.CompressionRatio(inode); ok {
		h.metrics.CompressionRatio(context.Background(), ratio)
	}
	return len(data), nil
}

// Truncate resizes inode's content to exactly size bytes.
func (h *Handle) Truncate(inode uint64, size int64) error {
	if size < 0 {
		return errs.Wrap(errs.ErrInvalid, "engine: negative truncate size")
	}
	idx, err := h.resolve(inode)
	if err != nil {
		return err
	}
	attr, err := h.mounted.Tree.GetAttr(idx)
	if err != nil {
		return err
	}
	if attr.Type != nodearena.TypeFile {
		return errs.Wrap(errs.ErrIsDir, "engine: truncate on a non-regular file")
	}

	oldSize := attr.Size
	newSize := uint64(size)

	if err := h.mounted.Blocks.Truncate(inode, size); err != nil {
		return err
	}
	now := time.Now().UnixNano()
	if err := h.mounted.Tree.SetAttr(idx, tree.AttrChanges{Size: &newSize, Mtime: &now}, now); err != nil {
		return err
	}

	payload := wal.EncodeSetattr(wal.SetattrPayload{FieldMask: wal.SetattrSize | wal.SetattrMtime, Size: newSize, Mtime: now})
	if err := h.commitOne(wal.RecordSetattr, inode, payload); err != nil {
		if rbErr := h.mounted.Blocks.Truncate(inode, int64(oldSize)); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted truncate failed: %v", rbErr)
		}
		if rbErr := h.mounted.Tree.SetAttr(idx, tree.AttrChanges{Size: &oldSize}, now); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted truncate's size failed: %v", rbErr)
		}
		return err
	}

	h.maybeRebalance()
	return nil
}

// AttrChanges mirrors tree.AttrChanges, the bridge's to-set bitmask for
// setattr.
type AttrChanges = tree.AttrChanges

// SetAttr applies changes to inode's attributes.
// Size changes go through Truncate instead, since they also touch block
// storage; SetAttr rejects a non-nil Size to keep the two paths distinct.
func (h *Handle) SetAttr(inode uint64, changes AttrChanges) error {
	if changes.Size != nil {
		return errs.Wrap(errs.ErrInvalid, "engine: setattr does not change size, use Truncate")
	}
	idx, err := h.resolve(inode)
	if err != nil {
		return err
	}
	old, err := h.mounted.Tree.GetAttr(idx)
	if err != nil {
		return err
	}

	now := time.Now().UnixNano()
	if err := h.mounted.Tree.SetAttr(idx, changes, now); err != nil {
		return err
	}

	payload := wal.EncodeSetattr(encodeSetattrChanges(changes, now))
	if err := h.commitOne(wal.RecordSetattr, inode, payload); err != nil {
		inverse := AttrChanges{Mode: &old.Mode, UID: &old.UID, GID: &old.GID, Atime: &old.Atime, Mtime: &old.Mtime}
		if rbErr := h.mounted.Tree.SetAttr(idx, inverse, old.Ctime); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted setattr failed: %v", rbErr)
		}
		return err
	}

	h.maybeRebalance()
	return nil
}

func encodeSetattrChanges(changes AttrChanges, now int64) wal.SetattrPayload {
	var p wal.SetattrPayload
	p.Mtime = now
	if changes.Mode != nil {
		p.FieldMask |= wal.SetattrMode
		p.Mode = *changes.Mode
	}
	if changes.UID != nil {
		p.FieldMask |= wal.SetattrUID
		p.UID = *changes.UID
	}
	if changes.GID != nil {
		p.FieldMask |= wal.SetattrGID
		p.GID = *changes.GID
	}
	if changes.Atime != nil {
		p.FieldMask |= wal.SetattrAtime
		p.Atime = *changes.Atime
	}
	if changes.Mtime != nil {
		p.FieldMask |= wal.SetattrMtime
		p.Mtime = *changes.Mtime
	}
	return p
}

// XattrSet sets namespace/key to value on inode.
func (h *Handle) XattrSet(inode uint64, namespace xattr.Namespace, key, value []byte, flags xattr.Flags) error {
	idx, err := h.resolve(inode)
	if err != nil {
		return err
	}
	head, err := h.mounted.Tree.XattrHead(idx)
	if err != nil {
		return err
	}

	newHead, err := h.mounted.Xattr.Set(head, namespace, key, value, flags)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	if err := h.mounted.Tree.SetXattrHead(idx, newHead, now); err != nil {
		return err
	}

	payload := wal.EncodeXattrSet(wal.XattrSetPayload{Namespace: uint8(namespace), Key: key, Value: value, Flags: uint32(flags)})
	if err := h.commitOne(wal.RecordXattrSet, inode, payload); err != nil {
		if _, rbErr := h.mounted.Xattr.Remove(newHead, namespace, key); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted xattr set failed: %v", rbErr)
		}
		if rbErr := h.mounted.Tree.SetXattrHead(idx, head, now); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted xattr set's head failed: %v", rbErr)
		}
		return err
	}

	h.maybeRebalance()
	return nil
}

// XattrGet returns the value stored for namespace/key on inode.
func (h *Handle) XattrGet(inode uint64, namespace xattr.Namespace, key []byte) ([]byte, error) {
	idx, err := h.resolve(inode)
	if err != nil {
		return nil, err
	}
	head, err := h.mounted.Tree.XattrHead(idx)
	if err != nil {
		return nil, err
	}
	return h.mounted.Xattr.Get(head, namespace, key)
}

// XattrList returns every namespace/key pair set on inode.
func (h *Handle) XattrList(inode uint64) ([]xattr.Entry, error) {
	idx, err := h.resolve(inode)
	if err != nil {
		return nil, err
	}
	head, err := h.mounted.Tree.XattrHead(idx)
	if err != nil {
		return nil, err
	}
	return h.mounted.Xattr.List(head)
}

// XattrRemove removes namespace/key from inode.
func (h *Handle) XattrRemove(inode uint64, namespace xattr.Namespace, key []byte) error {
	idx, err := h.resolve(inode)
	if err != nil {
		return err
	}
	head, err := h.mounted.Tree.XattrHead(idx)
	if err != nil {
		return err
	}

	newHead, err := h.mounted.Xattr.Remove(head, namespace, key)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	if err := h.mounted.Tree.SetXattrHead(idx, newHead, now); err != nil {
		return err
	}

	payload := wal.EncodeXattrRemove(wal.XattrRemovePayload{Namespace: uint8(namespace), Key: key})
	if err := h.commitOne(wal.RecordXattrRemove, inode, payload); err != nil {
		if rbErr := h.mounted.Tree.SetXattrHead(idx, head, now); rbErr != nil {
			logger.Errorf("engine: rollback of uncommitted xattr remove failed: %v", rbErr)
		}
		return err
	}

	h.maybeRebalance()
	return nil
}

// Snapshot is the Metrics() accessor's result -- a pull-based summary of
// the same counters the OTel handle pushes, for bridges that want a cheap
// in-process read without standing up a metrics backend.
type Snapshot struct {
	WALCommits        int64
	WALAborts         int64
	RecoveryReplayed  int
	RecoveryDiscarded int
}

// Metrics returns a point-in-time summary of WAL commit/abort counts and
// the replay stats from this mount's recovery pass.
func (h *Handle) Metrics() Snapshot {
	return Snapshot{
		WALCommits:        h.walCommits,
		WALAborts:         h.walAborts,
		RecoveryReplayed:  h.mounted.Stats.Replayed,
		RecoveryDiscarded: h.mounted.Stats.Discarded,
	}
}

// Stats is the Stats() accessor's result -- a statfs-adjacent summary of
// arena usage and WAL size.
type Stats struct {
	ArenaUsedBytes     int64
	ArenaCapacityBytes int64
	NodeCount          int
	FreeListDepth      int
	WALSizeBytes       int64
}

// Stats returns arena high-water marks, free-list depth, and WAL size, for
// a bridge's statfs callback.
func (h *Handle) Stats() Stats {
	nodes := h.mounted.Tree.Snapshot()
	free := 0
	for i := range nodes {
		if nodes[i].IsFree() {
			free++
		}
	}
	h.metrics.ArenaHighWater(context.Background(), h.mounted.Region.Used())
	return Stats{
		ArenaUsedBytes:     h.mounted.Region.Used(),
		ArenaCapacityBytes: h.mounted.Region.Capacity(),
		NodeCount:          len(nodes),
		FreeListDepth:      free,
		WALSizeBytes:       h.mounted.WAL.Size(),
	}
}

