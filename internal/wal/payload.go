package wal

import (
	"encoding/binary"

	"github.com/razorfs/razorfs/internal/errs"
)

// Sub-operation payloads are keyed by inode number rather than node-arena
// index or string-arena offset, so a replay against freshly loaded arenas
// (whose indices and offsets are not guaranteed to match the arenas that
// produced the log) only needs the inode table's inode-to-index mapping to
// re-run the same tree/xattr calls the original operation made.

// CreatePayload is the sub-operation record for CREATE and MKDIR. Record.Inode
// carries the parent directory's inode; ResultInode is the inode the
// original operation allocated for the new entry, so replay reuses it
// instead of minting a fresh one.
type CreatePayload struct {
	Name        []byte
	IsDir       bool
	Mode        uint32
	UID         uint32
	GID         uint32
	ResultInode uint64
}

func EncodeCreate(p CreatePayload) []byte {
	buf := make([]byte, 2+len(p.Name)+1+4+4+4+8)
	off := putBytes16(buf, 0, p.Name)
	buf[off] = boolByte(p.IsDir)
	off++
	binary.LittleEndian.PutUint32(buf[off:], p.Mode)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.UID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.GID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], p.ResultInode)
	return buf
}

func DecodeCreate(payload []byte) (CreatePayload, error) {
	var p CreatePayload
	name, off, err := getBytes16(payload, 0)
	if err != nil {
		return p, err
	}
	if off+17 > len(payload) {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated create payload")
	}
	p.Name = name
	p.IsDir = payload[off] != 0
	off++
	p.Mode = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	p.UID = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	p.GID = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	p.ResultInode = binary.LittleEndian.Uint64(payload[off:])
	return p, nil
}

// UnlinkPayload is the sub-operation record for UNLINK and RMDIR. Record.Inode
// carries the parent directory's inode.
type UnlinkPayload struct {
	Name []byte
}

func EncodeUnlink(p UnlinkPayload) []byte {
	buf := make([]byte, 2+len(p.Name))
	putBytes16(buf, 0, p.Name)
	return buf
}

func DecodeUnlink(payload []byte) (UnlinkPayload, error) {
	name, _, err := getBytes16(payload, 0)
	return UnlinkPayload{Name: name}, err
}

// RenamePayload is the sub-operation record for RENAME. Record.Inode carries
// the source parent's inode; DstParentInode carries the destination
// parent's, which may equal Record.Inode for a same-directory rename.
type RenamePayload struct {
	SrcName        []byte
	DstParentInode uint64
	DstName        []byte
	NoReplace      bool
}

func EncodeRename(p RenamePayload) []byte {
	buf := make([]byte, 2+len(p.SrcName)+8+2+len(p.DstName)+1)
	off := putBytes16(buf, 0, p.SrcName)
	binary.LittleEndian.PutUint64(buf[off:], p.DstParentInode)
	off += 8
	off = putBytes16(buf, off, p.DstName)
	buf[off] = boolByte(p.NoReplace)
	return buf
}

func DecodeRename(payload []byte) (RenamePayload, error) {
	var p RenamePayload
	srcName, off, err := getBytes16(payload, 0)
	if err != nil {
		return p, err
	}
	if off+8 > len(payload) {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated rename payload")
	}
	p.SrcName = srcName
	p.DstParentInode = binary.LittleEndian.Uint64(payload[off:])
	off += 8
	dstName, off, err := getBytes16(payload, off)
	if err != nil {
		return p, err
	}
	p.DstName = dstName
	if off >= len(payload) {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated rename payload")
	}
	p.NoReplace = payload[off] != 0
	return p, nil
}

// WritePayload is the sub-operation record for WRITE. Record.Inode carries
// the file's own inode.
type WritePayload struct {
	Offset uint64
	Data   []byte
}

func EncodeWrite(p WritePayload) []byte {
	buf := make([]byte, 8+len(p.Data))
	binary.LittleEndian.PutUint64(buf, p.Offset)
	copy(buf[8:], p.Data)
	return buf
}

func DecodeWrite(payload []byte) (WritePayload, error) {
	if len(payload) < 8 {
		return WritePayload{}, errs.Wrap(errs.ErrCorrupt, "wal: truncated write payload")
	}
	return WritePayload{
		Offset: binary.LittleEndian.Uint64(payload),
		Data:   payload[8:],
	}, nil
}

// The Setattr* bits select which SetattrPayload fields are meaningful, per
// the bridge's to-set bitmask convention.
const (
	SetattrMode uint32 = 1 << iota
	SetattrUID
	SetattrGID
	SetattrSize
	SetattrAtime
	SetattrMtime
)

// SetattrPayload is the sub-operation record for SETATTR. Record.Inode
// carries the target node's inode.
type SetattrPayload struct {
	FieldMask uint32
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      uint64
	Atime     int64
	Mtime     int64
}

func EncodeSetattr(p SetattrPayload) []byte {
	buf := make([]byte, 4+4+4+4+8+8+8)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], p.FieldMask)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.Mode)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.UID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.GID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], p.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(p.Atime))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(p.Mtime))
	return buf
}

func DecodeSetattr(payload []byte) (SetattrPayload, error) {
	var p SetattrPayload
	if len(payload) < 40 {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated setattr payload")
	}
	off := 0
	p.FieldMask = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	p.Mode = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	p.UID = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	p.GID = binary.LittleEndian.Uint32(payload[off:])
	off += 4
	p.Size = binary.LittleEndian.Uint64(payload[off:])
	off += 8
	p.Atime = int64(binary.LittleEndian.Uint64(payload[off:]))
	off += 8
	p.Mtime = int64(binary.LittleEndian.Uint64(payload[off:]))
	return p, nil
}

// XattrSetPayload is the sub-operation record for XATTR-SET. Record.Inode
// carries the target node's inode.
type XattrSetPayload struct {
	Namespace uint8
	Key       []byte
	Value     []byte
	Flags     uint32
}

func EncodeXattrSet(p XattrSetPayload) []byte {
	buf := make([]byte, 1+2+len(p.Key)+4+len(p.Value)+4)
	off := 0
	buf[off] = p.Namespace
	off++
	off = putBytes16(buf, off, p.Key)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.Value)))
	off += 4
	copy(buf[off:], p.Value)
	off += len(p.Value)
	binary.LittleEndian.PutUint32(buf[off:], p.Flags)
	return buf
}

func DecodeXattrSet(payload []byte) (XattrSetPayload, error) {
	var p XattrSetPayload
	if len(payload) < 1 {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated xattr-set payload")
	}
	off := 0
	p.Namespace = payload[off]
	off++
	key, off, err := getBytes16(payload, off)
	if err != nil {
		return p, err
	}
	p.Key = key
	if off+4 > len(payload) {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated xattr-set payload")
	}
	valueLen := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	if off+valueLen+4 > len(payload) {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated xattr-set payload")
	}
	p.Value = payload[off : off+valueLen]
	off += valueLen
	p.Flags = binary.LittleEndian.Uint32(payload[off:])
	return p, nil
}

// XattrRemovePayload is the sub-operation record for XATTR-REMOVE.
// Record.Inode carries the target node's inode.
type XattrRemovePayload struct {
	Namespace uint8
	Key       []byte
}

func EncodeXattrRemove(p XattrRemovePayload) []byte {
	buf := make([]byte, 1+2+len(p.Key))
	buf[0] = p.Namespace
	putBytes16(buf, 1, p.Key)
	return buf
}

func DecodeXattrRemove(payload []byte) (XattrRemovePayload, error) {
	var p XattrRemovePayload
	if len(payload) < 1 {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated xattr-remove payload")
	}
	p.Namespace = payload[0]
	key, _, err := getBytes16(payload, 1)
	p.Key = key
	return p, err
}

// LinkPayload is the sub-operation record for LINK. Record.Inode carries the
// parent directory's inode; TargetInode is the existing node being linked.
type LinkPayload struct {
	Name        []byte
	TargetInode uint64
}

func EncodeLink(p LinkPayload) []byte {
	buf := make([]byte, 2+len(p.Name)+8)
	off := putBytes16(buf, 0, p.Name)
	binary.LittleEndian.PutUint64(buf[off:], p.TargetInode)
	return buf
}

func DecodeLink(payload []byte) (LinkPayload, error) {
	var p LinkPayload
	name, off, err := getBytes16(payload, 0)
	if err != nil {
		return p, err
	}
	if off+8 > len(payload) {
		return p, errs.Wrap(errs.ErrCorrupt, "wal: truncated link payload")
	}
	p.Name = name
	p.TargetInode = binary.LittleEndian.Uint64(payload[off:])
	return p, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// putBytes16 writes a 2-byte length prefix followed by data at buf[off:],
// returning the offset just past the written bytes.
func putBytes16(buf []byte, off int, data []byte) int {
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(data)))
	off += 2
	copy(buf[off:], data)
	return off + len(data)
}

// getBytes16 reads a 2-byte-length-prefixed byte string at buf[off:],
// returning the bytes and the offset just past them.
func getBytes16(buf []byte, off int) ([]byte, int, error) {
	if off+2 > len(buf) {
		return nil, off, errs.Wrap(errs.ErrCorrupt, "wal: truncated length-prefixed field")
	}
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+n > len(buf) {
		return nil, off, errs.Wrap(errs.ErrCorrupt, "wal: truncated length-prefixed field")
	}
	return buf[off : off+n], off + n, nil
}
