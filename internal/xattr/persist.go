package xattr

import (
	"encoding/binary"

	"github.com/razorfs/razorfs/internal/errs"
)

// entryBytes is one entry's fixed on-disk encoding: namespace (1),
// keyOff (4), valOff (4), valLen (4), next (4), free (1).
const entryBytes = 1 + 4 + 4 + 4 + 4 + 1

// Snapshot serializes the store's entry table (not the arena, which
// persists separately via internal/shm) so a checkpoint can make xattr
// chains durable without replaying every WAL XATTR-SET/XATTR-REMOVE record
// since the dawn of the mount. The arena itself is untouched: Node.XattrHead
// values stay valid indices into the restored entry table, and the entries'
// keyOff/valOff fields stay valid offsets into whatever string arena the
// caller reloads alongside this snapshot.
func (s *Store) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 4+len(s.entries)*entryBytes)
	binary.LittleEndian.PutUint32(buf[0:4], s.freeHead)
	off := 4
	for _, e := range s.entries {
		buf[off] = byte(e.namespace)
		off++
		binary.LittleEndian.PutUint32(buf[off:], e.keyOff)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], e.valOff)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], e.valLen)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], e.next)
		off += 4
		if e.free {
			buf[off] = 1
		}
		off++
	}
	return buf
}

// Restore rebuilds a store's entry table from bytes produced by Snapshot,
// reusing arena for key/value lookups. Index 0 of the encoded table is
// always the reserved NoneHead placeholder, matching New's convention.
func Restore(arenaStore *Store, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) < 4 {
		return errs.Wrap(errs.ErrCorrupt, "xattr: truncated snapshot header")
	}
	freeHead := binary.LittleEndian.Uint32(data[0:4])
	rest := data[4:]
	if len(rest)%entryBytes != 0 {
		return errs.Wrap(errs.ErrCorrupt, "xattr: truncated entry table")
	}

	count := len(rest) / entryBytes
	entries := make([]entry, count)
	off := 0
	for i := 0; i < count; i++ {
		entries[i] = entry{
			namespace: Namespace(rest[off]),
			keyOff:    binary.LittleEndian.Uint32(rest[off+1:]),
			valOff:    binary.LittleEndian.Uint32(rest[off+5:]),
			valLen:    binary.LittleEndian.Uint32(rest[off+9:]),
			next:      binary.LittleEndian.Uint32(rest[off+13:]),
			free:      rest[off+17] != 0,
		}
		off += entryBytes
	}

	arenaStore.mu.Lock()
	defer arenaStore.mu.Unlock()
	arenaStore.entries = entries
	arenaStore.freeHead = freeHead
	return nil
}
