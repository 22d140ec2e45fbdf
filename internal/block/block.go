// Package block implements file payload storage on top of the compression
// layer (C7): regular-file bytes are chunked into fixed-size blocks, each
// independently compressed via internal/compress, and addressed by
// (inode, block index). It is the WAL WRITE record's data half -- the tree
// package owns metadata (size, timestamps), this package owns bytes.
package block

import (
	"sync"

	"github.com/razorfs/razorfs/internal/compress"
	"github.com/razorfs/razorfs/internal/errs"
)

// Store holds every regular file's block data in memory, encoded the same
// way it would be written to a block device: each slot is a compress.EncodeBlock
// frame, so callers that want the raw wire bytes (e.g. a future on-disk
// block region) can read them directly without a re-encode.
type Store struct {
	mu sync.RWMutex

	blockSize int
	threshold int

	files map[uint64][][]byte // inode -> encoded blocks, index-aligned
}

// New creates an empty block store using blockSize-byte chunks, compressing
// a block only when its raw length meets threshold and compression actually
// shrinks it (see compress.EncodeBlock).
func New(blockSize, threshold int) *Store {
	return &Store{
		blockSize: blockSize,
		threshold: threshold,
		files:     make(map[uint64][][]byte),
	}
}

// blockCount returns how many blockSize-byte blocks are needed to hold size
// bytes.
func (s *Store) blockCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + int64(s.blockSize) - 1) / int64(s.blockSize))
}

// Read fills dst starting at offset from inode's stored blocks, returning
// the number of bytes actually read. Reading past the end of any written
// block, or from an inode with no blocks at all, is not an error -- it
// yields zero bytes read, matching a sparse/never-written region reading as
// zeroes.
func (s *Store) Read(inode uint64, offset int64, dst []byte) (int, error) {
	if offset < 0 {
		return 0, errs.Wrap(errs.ErrInvalid, "block: negative offset")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := s.files[inode]
	total := 0
	for total < len(dst) {
		pos := offset + int64(total)
		idx := int(pos / int64(s.blockSize))
		within := int(pos % int64(s.blockSize))
		if idx >= len(blocks) {
			break
		}
		data, err := compress.DecodeBlock(blocks[idx])
		if err != nil {
			return total, err
		}
		if within >= len(data) {
			break
		}
		n := copy(dst[total:], data[within:])
		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Write stores data at offset in inode's block list, compressing each
// touched block independently. Writes past the current block count
// allocate and zero-fill the intervening blocks first, so a subsequent Read
// of the gap returns zeroes rather than an error.
func (s *Store) Write(inode uint64, offset int64, data []byte) error {
	if offset < 0 {
		return errs.Wrap(errs.ErrInvalid, "block: negative offset")
	}
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.files[inode]
	lastPos := offset + int64(len(data))
	needed := s.blockCount(lastPos)
	for len(blocks) < needed {
		blocks = append(blocks, compress.EncodeBlock(make([]byte, s.blockSize), s.threshold))
	}

	written := 0
	for written < len(data) {
		pos := offset + int64(written)
		idx := int(pos / int64(s.blockSize))
		within := int(pos % int64(s.blockSize))

		raw, err := compress.DecodeBlock(blocks[idx])
		if err != nil {
			return err
		}
		if len(raw) < s.blockSize {
			grown := make([]byte, s.blockSize)
			copy(grown, raw)
			raw = grown
		}

		n := copy(raw[within:], data[written:])
		blocks[idx] = compress.EncodeBlock(raw, s.threshold)
		written += n
	}

	s.files[inode] = blocks
	return nil
}

// Truncate resizes inode's stored block list to hold exactly size bytes,
// zero-filling any newly exposed tail and dropping blocks entirely beyond
// size. Truncating an inode with no blocks to a positive size allocates a
// fully zeroed run.
func (s *Store) Truncate(inode uint64, size int64) error {
	if size < 0 {
		return errs.Wrap(errs.ErrInvalid, "block: negative size")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.files[inode]
	needed := s.blockCount(size)

	for len(blocks) < needed {
		blocks = append(blocks, compress.EncodeBlock(make([]byte, s.blockSize), s.threshold))
	}
	if len(blocks) > needed {
		blocks = blocks[:needed]
	}

	if needed > 0 {
		lastIdx := needed - 1
		tailLen := int(size - int64(lastIdx)*int64(s.blockSize))
		raw, err := compress.DecodeBlock(blocks[lastIdx])
		if err != nil {
			return err
		}
		grown := make([]byte, s.blockSize)
		copy(grown, raw[:min(tailLen, len(raw))])
		blocks[lastIdx] = compress.EncodeBlock(grown, s.threshold)
	}

	if needed == 0 {
		delete(s.files, inode)
		return nil
	}
	s.files[inode] = blocks
	return nil
}

// Remove discards every block belonging to inode, called once the tree
// frees its node (link count reaches zero with no open handles).
func (s *Store) Remove(inode uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, inode)
}

// CompressionRatio reports the ratio of stored bytes (frame headers
// included) to logical bytes (one full block size per stored block) across
// every block currently held for inode -- lower means better compression.
// A block kept raw still carries its frame header, so the ratio exceeds 1
// when little or nothing compresses. Returns (0, false) for an inode with
// no stored blocks.
func (s *Store) CompressionRatio(inode uint64) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks, ok := s.files[inode]
	if !ok || len(blocks) == 0 {
		return 0, false
	}
	var stored, logical int
	for _, b := range blocks {
		stored += len(b)
		logical += s.blockSize
	}
	return float64(stored) / float64(logical), true
}
