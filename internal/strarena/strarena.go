// Package strarena implements the engine's String Arena (C1): an
// append-only, length-prefixed byte store for path component names and
// xattr keys/values, addressed by stable 32-bit offsets. Interning is
// idempotent for identical byte sequences via a hash-keyed index.
package strarena

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/razorfs/razorfs/internal/errs"
)

// NoneOffset is the reserved sentinel meaning "no string".
const NoneOffset uint32 = 0

// entryHeaderBytes is the length prefix every arena entry carries.
const entryHeaderBytes = 4

// Arena is safe for concurrent use: a single writer lock guards append,
// held only for the duration of the append itself (per the engine's
// shared-resource policy), never across a caller's higher-level operation.
type Arena struct {
	mu       sync.Mutex
	buf      []byte
	capacity int64

	// index maps a content hash to every offset sharing that hash, so
	// Intern can detect an identical byte sequence already present
	// without rescanning the whole arena.
	index map[uint64][]uint32
}

// New creates an empty arena bounded by capacity bytes.
func New(capacity int64) *Arena {
	a := &Arena{
		capacity: capacity,
		index:    make(map[uint64][]uint32),
	}
	// Offset 0 is reserved; seed the buffer so the first real entry starts
	// at offset >= entryHeaderBytes.
	a.buf = make([]byte, entryHeaderBytes)
	return a
}

// Load rebuilds an arena from bytes previously returned by Bytes, e.g. after
// mapping the persisted shared region back in. It re-derives the hash index
// by scanning every entry once.
func Load(buf []byte, capacity int64) (*Arena, error) {
	a := &Arena{
		capacity: capacity,
		index:    make(map[uint64][]uint32),
		buf:      append([]byte(nil), buf...),
	}
	if len(a.buf) < entryHeaderBytes {
		a.buf = make([]byte, entryHeaderBytes)
		return a, nil
	}

	// The first entry's length prefix follows the reserved header, so its
	// data starts at 2*entryHeaderBytes.
	off := uint32(2 * entryHeaderBytes)
	for int(off) <= len(a.buf) {
		length := binary.LittleEndian.Uint32(a.buf[off-entryHeaderBytes : off])
		end := int(off) + int(length)
		if end > len(a.buf) {
			return nil, errs.Wrap(errs.ErrCorrupt, "strarena: truncated entry during load")
		}
		h := xxhash.Sum64(a.buf[off:end])
		a.index[h] = append(a.index[h], off)
		off = uint32(end) + entryHeaderBytes
	}
	return a, nil
}

// Intern appends data to the arena and returns its offset, or returns the
// offset of an identical byte sequence already present. Does not retain the
// caller's slice beyond copying it into the arena.
func (a *Arena) Intern(data []byte) (uint32, error) {
	if len(data) == 0 {
		return NoneOffset, nil
	}

	h := xxhash.Sum64(data)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, candidate := range a.index[h] {
		if a.equalAt(candidate, data) {
			return candidate, nil
		}
	}

	needed := int64(entryHeaderBytes + len(data))
	if int64(len(a.buf))+needed > a.capacity {
		return 0, errs.Wrap(errs.ErrCapacity, "strarena: capacity exceeded")
	}

	offset := uint32(len(a.buf)) + entryHeaderBytes
	var header [entryHeaderBytes]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(data)))
	a.buf = append(a.buf, header[:]...)
	a.buf = append(a.buf, data...)

	a.index[h] = append(a.index[h], offset)
	return offset, nil
}

// equalAt reports whether the entry at offset has the given content.
// Callers must hold a.mu.
func (a *Arena) equalAt(offset uint32, data []byte) bool {
	if offset < entryHeaderBytes || int(offset) > len(a.buf) {
		return false
	}
	length := binary.LittleEndian.Uint32(a.buf[offset-entryHeaderBytes : offset])
	if int(length) != len(data) {
		return false
	}
	end := int(offset) + len(data)
	if end > len(a.buf) {
		return false
	}
	for i, b := range data {
		if a.buf[int(offset)+i] != b {
			return false
		}
	}
	return true
}

// Get resolves offset to its interned bytes. A zero offset (NoneOffset)
// always returns nil, nil. Any other invalid offset is corruption, not a
// silent empty result.
func (a *Arena) Get(offset uint32) ([]byte, error) {
	if offset == NoneOffset {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if offset < entryHeaderBytes || int(offset) > len(a.buf) {
		return nil, errs.Wrap(errs.ErrCorrupt, "strarena: offset out of range")
	}
	length := binary.LittleEndian.Uint32(a.buf[offset-entryHeaderBytes : offset])
	end := int(offset) + int(length)
	if end > len(a.buf) {
		return nil, errs.Wrap(errs.ErrCorrupt, "strarena: entry overruns arena")
	}

	out := make([]byte, length)
	copy(out, a.buf[offset:end])
	return out, nil
}

// HighWaterMark returns the current size of the arena's backing buffer,
// the observable side effect required of Intern: a monotonically growing
// high-water mark.
func (a *Arena) HighWaterMark() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.buf))
}

// Bytes returns a copy of the arena's raw backing buffer, suitable for
// writing into the persisted shared region.
func (a *Arena) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	return out
}
