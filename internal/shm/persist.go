package shm

import (
	"encoding/binary"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/nodearena"
)

// Payload framing: the Open Question in spec.md §9 over whether the string
// arena lives inside the persisted shared region or is rebuilt from the
// node arena's interned fields is resolved by SPEC_FULL.md in favor of
// persisting both -- rebuilding the string arena from node/xattr fields
// alone would require a second full tree walk on every mount and still
// miss xattr keys/values that no live node directly references. So the
// payload is, in order: a node-arena section (node count, free-list head,
// then each node's fixed encoding) followed by a string-arena section (raw
// byte length, then the bytes themselves, verbatim from strarena.Bytes).
const (
	nodeSectionCountBytes = 8 + 4 // node count (uint64) + free head (uint32)
	nodeFixedBytes        = 8 + 4 + 1 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 4 + 2 + 4 + 4 + 4 + 1
	strSectionLenBytes    = 8
)

// PersistArenas serializes the node arena's snapshot and the string
// arena's raw bytes into region's payload, then updates the region's used
// high-water mark. It does not call Flush; callers decide when to make the
// write durable (recovery's checkpoint flushes the region just before it
// checkpoints the WAL).
func PersistArenas(region *Region, nodes []nodearena.Node, freeHead uint32, strBytes []byte) error {
	payload := region.Payload()

	nodeSectionBytes := nodeSectionCountBytes
	for _, n := range nodes {
		nodeSectionBytes += nodeFixedBytes + 4*len(n.Children)
	}
	total := int64(nodeSectionBytes) + strSectionLenBytes + int64(len(strBytes))
	if total > region.Capacity() {
		return errs.Wrap(errs.ErrCapacity, "shm: serialized arenas exceed region capacity")
	}

	off := 0
	binary.LittleEndian.PutUint64(payload[off:off+8], uint64(len(nodes)))
	off += 8
	binary.LittleEndian.PutUint32(payload[off:off+4], freeHead)
	off += 4

	for _, n := range nodes {
		off = encodeNode(payload, off, &n)
	}

	binary.LittleEndian.PutUint64(payload[off:off+8], uint64(len(strBytes)))
	off += 8
	copy(payload[off:off+len(strBytes)], strBytes)
	off += len(strBytes)

	return region.SetUsed(int64(off))
}

// LoadArenas reverses PersistArenas, reading back the node slice, free-list
// head, and raw string-arena bytes from region's current payload and used
// high-water mark.
func LoadArenas(region *Region) (nodes []nodearena.Node, freeHead uint32, strBytes []byte, err error) {
	used := region.Used()
	payload := region.Payload()
	if used < nodeSectionCountBytes {
		return nil, nodearena.SentinelIndex, nil, nil
	}

	off := 0
	count := binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8
	freeHead = binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4

	nodes = make([]nodearena.Node, count)
	for i := range nodes {
		var n nodearena.Node
		off, err = decodeNode(payload, off, int64(used), &n)
		if err != nil {
			return nil, 0, nil, err
		}
		nodes[i] = n
	}

	if int64(off)+strSectionLenBytes > used {
		return nil, 0, nil, errs.Wrap(errs.ErrCorrupt, "shm: truncated string-arena section length")
	}
	strLen := binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8
	if int64(off)+int64(strLen) > used {
		return nil, 0, nil, errs.Wrap(errs.ErrCorrupt, "shm: truncated string-arena bytes")
	}
	strBytes = make([]byte, strLen)
	copy(strBytes, payload[off:off+int(strLen)])

	return nodes, freeHead, strBytes, nil
}

func encodeNode(buf []byte, off int, n *nodearena.Node) int {
	binary.LittleEndian.PutUint64(buf[off:off+8], n.Inode)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], n.Parent)
	off += 4
	buf[off] = byte(n.Type)
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], n.Mode)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], n.UID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], n.GID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], n.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Atime))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Mtime))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Ctime))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], n.NameOffset)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:off+2], n.LinkCount)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:off+4], n.XattrHead)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], n.SymlinkTarget)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(n.Children)))
	off += 4
	if n.IsFree() {
		buf[off] = 0
	} else {
		buf[off] = 1
	}
	off++
	for _, child := range n.Children {
		binary.LittleEndian.PutUint32(buf[off:off+4], child)
		off += 4
	}
	return off
}

func decodeNode(buf []byte, off int, used int64, n *nodearena.Node) (int, error) {
	if int64(off+nodeFixedBytes) > used {
		return 0, errs.Wrap(errs.ErrCorrupt, "shm: truncated node record")
	}
	n.Inode = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	n.Parent = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	n.Type = nodearena.Type(buf[off])
	off++
	n.Mode = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	n.UID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	n.GID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	n.Size = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	n.Atime = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	n.Mtime = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	n.Ctime = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	n.NameOffset = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	n.LinkCount = binary.LittleEndian.Uint16(buf[off : off+2])
	off += 2
	n.XattrHead = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	n.SymlinkTarget = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	childCount := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	allocated := buf[off] == 1
	off++

	if int64(off)+4*int64(childCount) > used {
		return 0, errs.Wrap(errs.ErrCorrupt, "shm: truncated child list")
	}
	if childCount > 0 {
		n.Children = make([]uint32, childCount)
		for i := range n.Children {
			n.Children[i] = binary.LittleEndian.Uint32(buf[off : off+4])
			off += 4
		}
	} else {
		n.Children = nil
	}

	if allocated {
		nodearena.MarkAllocated(n)
	}
	return off, nil
}
