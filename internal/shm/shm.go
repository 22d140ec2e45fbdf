// Package shm implements the engine's Shared-Memory Backing (C4): the
// node arena and string arena are persisted as one mmap'd region so a
// remount can recover live state without replaying the entire write-ahead
// log. The region's header layout is fixed by spec.md §6.
package shm

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/logger"
)

// Magic identifies a razorfs shared region.
var Magic = [4]byte{'R', 'Z', 'F', 'S'}

// HeaderBytes is the fixed region header size: 4-byte magic, 2-byte major
// version, 2-byte minor version, 8-byte capacity, 8-byte used high-water
// mark, 4-byte CRC-32 over the preceding 24 bytes.
const HeaderBytes = 28

const (
	MajorVersion uint16 = 1
	MinorVersion uint16 = 0
)

// Region is an open, mmap'd shared-memory backing file. The node arena and
// string arena both serialize into (and load from) the payload area that
// follows the header; Region itself knows nothing about their internal
// encodings, only about framing the payload and keeping the header's used
// high-water mark and CRC consistent.
type Region struct {
	mu       sync.Mutex
	f        *os.File
	data     []byte // mmap'd bytes, HeaderBytes + capacity long
	capacity int64
}

// OpenOrCreate maps path, creating and zero-initializing a region of
// capacityBytes if the file does not already exist, or validating an
// existing region's header (magic, version, CRC) otherwise.
func OpenOrCreate(path string, capacityBytes int64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrIO, err, "shm: open "+path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrapf(errs.ErrIO, err, "shm: stat "+path)
	}

	totalSize := HeaderBytes + capacityBytes

	if info.Size() == 0 {
		if err := f.Truncate(totalSize); err != nil {
			f.Close()
			return nil, errs.Wrapf(errs.ErrIO, err, "shm: truncate new region")
		}
	} else if info.Size() != totalSize {
		f.Close()
		return nil, errs.Wrap(errs.ErrCorrupt, "shm: existing region size does not match configured capacity")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errs.Wrapf(errs.ErrIO, err, "shm: mmap")
	}

	r := &Region{f: f, data: data, capacity: capacityBytes}

	if info.Size() == 0 {
		r.writeHeaderLocked(0)
		logger.Infof("shm: created new region %s (%d bytes)", path, totalSize)
		return r, nil
	}

	if err := r.validateHeaderLocked(); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Region) writeHeaderLocked(used int64) {
	copy(r.data[0:4], Magic[:])
	binary.LittleEndian.PutUint16(r.data[4:6], MajorVersion)
	binary.LittleEndian.PutUint16(r.data[6:8], MinorVersion)
	binary.LittleEndian.PutUint64(r.data[8:16], uint64(r.capacity))
	binary.LittleEndian.PutUint64(r.data[16:24], uint64(used))
	crc := crc32.ChecksumIEEE(r.data[0:24])
	binary.LittleEndian.PutUint32(r.data[24:28], crc)
}

func (r *Region) validateHeaderLocked() error {
	hdr := r.data[0:HeaderBytes]
	if hdr[0] != Magic[0] || hdr[1] != Magic[1] || hdr[2] != Magic[2] || hdr[3] != Magic[3] {
		return errs.Wrap(errs.ErrCorrupt, "shm: bad region magic")
	}
	major := binary.LittleEndian.Uint16(hdr[4:6])
	if major != MajorVersion {
		return errs.Wrap(errs.ErrVersion, "shm: incompatible major version")
	}
	capacity := int64(binary.LittleEndian.Uint64(hdr[8:16]))
	if capacity != r.capacity {
		return errs.Wrap(errs.ErrVersion, "shm: region capacity does not match configured capacity")
	}
	wantCRC := binary.LittleEndian.Uint32(hdr[24:28])
	gotCRC := crc32.ChecksumIEEE(hdr[0:24])
	if wantCRC != gotCRC {
		return errs.Wrap(errs.ErrCorrupt, "shm: region header CRC mismatch")
	}
	return nil
}

// Used returns the header's recorded high-water mark.
func (r *Region) Used() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(binary.LittleEndian.Uint64(r.data[16:24]))
}

// Payload returns the mutable payload area following the header. Callers
// (the node arena and string arena persistence encoders) write their
// serialized bytes directly into it.
func (r *Region) Payload() []byte {
	return r.data[HeaderBytes:]
}

// Capacity returns the payload area's configured size in bytes.
func (r *Region) Capacity() int64 { return r.capacity }

// SetUsed updates the header's used high-water mark and recomputes its
// CRC. Called after writing new payload bytes, before Flush.
func (r *Region) SetUsed(used int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if used < 0 || used > r.capacity {
		return errs.Wrap(errs.ErrCapacity, "shm: used exceeds region capacity")
	}
	r.writeHeaderLocked(used)
	return nil
}

// Flush synchronizes the mmap'd region to stable storage (msync), making
// the current payload and header durable.
func (r *Region) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "shm: msync")
	}
	return nil
}

// Close unmaps and closes the backing file. It does not flush; callers
// that need durability must call Flush first.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := unix.Munmap(r.data); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "shm: munmap")
	}
	if err := r.f.Close(); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "shm: close")
	}
	return nil
}
