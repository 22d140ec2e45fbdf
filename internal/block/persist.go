package block

import (
	"encoding/binary"

	"github.com/razorfs/razorfs/internal/errs"
)

var errTruncated = errs.Wrap(errs.ErrCorrupt, "block: truncated snapshot")

func readUint64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) {
		return 0, off, errTruncated
	}
	return binary.LittleEndian.Uint64(buf[off:]), off + 8, nil
}

func readUint32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, errTruncated
	}
	return binary.LittleEndian.Uint32(buf[off:]), off + 4, nil
}

// Snapshot serializes every inode's block list to a flat byte slice so a
// checkpoint can make file payloads durable across a restart, the same way
// internal/shm persists the node/string arenas and internal/xattr persists
// its entry table. Format: inode count (8), then per inode: inode number
// (8), block count (4), then each block's length (4) and raw (already
// compress-encoded) bytes.
func (s *Store) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := 8
	for _, blocks := range s.files {
		size += 8 + 4
		for _, b := range blocks {
			size += 4 + len(b)
		}
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(s.files)))
	off += 8
	for inode, blocks := range s.files {
		binary.LittleEndian.PutUint64(buf[off:], inode)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(blocks)))
		off += 4
		for _, b := range blocks {
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
			off += 4
			copy(buf[off:], b)
			off += len(b)
		}
	}
	return buf
}

// Load rebuilds a store's file map from bytes produced by Snapshot.
func Load(blockSize, threshold int, data []byte) (*Store, error) {
	s := New(blockSize, threshold)
	if len(data) == 0 {
		return s, nil
	}

	n, off, err := readUint64(data, 0)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var inode uint64
		var blockCount uint32
		inode, off, err = readUint64(data, off)
		if err != nil {
			return nil, err
		}
		blockCount, off, err = readUint32(data, off)
		if err != nil {
			return nil, err
		}
		blocks := make([][]byte, blockCount)
		for b := uint32(0); b < blockCount; b++ {
			var blockLen uint32
			blockLen, off, err = readUint32(data, off)
			if err != nil {
				return nil, err
			}
			end := off + int(blockLen)
			if end > len(data) {
				return nil, errTruncated
			}
			blocks[b] = append([]byte(nil), data[off:end]...)
			off = end
		}
		s.files[inode] = blocks
	}
	return s, nil
}
