// Package xattr implements the engine's Extended Attributes (C8): a
// per-inode namespace/key/value store chained through the String Arena.
// Keys and values are interned in the string arena; the small, mutable
// link records that form the chain live in this package's own entry
// table, addressed the same way the node arena addresses nodes (a 1-based
// index with 0 reserved as "no entry", matching Node.XattrHead's sentinel).
package xattr

import (
	"sync"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/strarena"
)

// Namespace tags a key's namespace, per spec.md §4.8.
type Namespace uint8

const (
	NamespaceUser Namespace = iota
	NamespaceTrusted
	NamespaceSecurity
	NamespaceSystem
)

// Flags distinguishes create/replace semantics for Set, per spec.md §4.8.
type Flags uint8

const (
	// FlagCreate fails Set with ErrExists if the key is already present.
	FlagCreate Flags = 1 << iota
	// FlagReplace fails Set with ErrNotFound if the key is absent.
	FlagReplace
	// Neither flag set means create-or-replace.
)

// NoneHead is the sentinel value for "no xattr chain", matching
// nodearena.Node.XattrHead's zero value.
const NoneHead uint32 = 0

type entry struct {
	namespace Namespace
	keyOff    uint32
	valOff    uint32
	valLen    uint32
	next      uint32
	free      bool
}

// Entry is a read-only view of one xattr, returned by List.
type Entry struct {
	Namespace Namespace
	Key       []byte
}

// Store holds every inode's xattr chains for one mount. Keys/values are
// interned into the shared string arena (a.Intern is idempotent, so two
// inodes sharing a key or value byte sequence share the same arena bytes).
type Store struct {
	mu          sync.Mutex
	arena       *strarena.Arena
	entries     []entry // index 0 unused
	freeHead    uint32  // NoneHead when empty
	maxPerInode int
	maxBytes    int
}

// New creates a store backed by arena, enforcing maxPerInode entries and
// maxBytes of combined key+value bytes per inode.
func New(arena *strarena.Arena, maxPerInode, maxBytes int) *Store {
	return &Store{
		arena:       arena,
		entries:     make([]entry, 1), // reserve index 0 as NoneHead
		maxPerInode: maxPerInode,
		maxBytes:    maxBytes,
	}
}

// Set inserts or updates namespace/key on the chain currently rooted at
// head, returning the chain's new head (which the caller -- holding the
// owning node's writer lock -- must store back into Node.XattrHead).
func (s *Store) Set(head uint32, namespace Namespace, key, value []byte, flags Flags) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, totalBytes := s.statsLocked(head)

	idx, prevIdx, err := s.findLocked(head, namespace, key)
	if err != nil {
		return 0, err
	}

	if idx != NoneHead {
		if flags&FlagCreate != 0 {
			return 0, errs.Wrap(errs.ErrExists, "xattr: key already exists")
		}
		// Replace in place: new value bytes are interned (arena append is
		// idempotent for identical content), old bytes are simply orphaned,
		// consistent with the string arena never reclaiming mid-session.
		newTotal := totalBytes - int(s.entries[idx].valLen) + len(value)
		if s.maxBytes > 0 && newTotal > s.maxBytes {
			return 0, errs.Wrap(errs.ErrCapacity, "xattr: value would exceed per-inode byte limit")
		}
		valOff, err := s.arena.Intern(value)
		if err != nil {
			return 0, err
		}
		s.entries[idx].valOff = valOff
		s.entries[idx].valLen = uint32(len(value))
		return head, nil
	}

	if flags&FlagReplace != 0 {
		return 0, errs.Wrap(errs.ErrNotFound, "xattr: key does not exist")
	}
	if s.maxPerInode > 0 && count >= s.maxPerInode {
		return 0, errs.Wrap(errs.ErrCapacity, "xattr: too many xattrs on this inode")
	}
	if s.maxBytes > 0 && totalBytes+len(key)+len(value) > s.maxBytes {
		return 0, errs.Wrap(errs.ErrCapacity, "xattr: would exceed per-inode byte limit")
	}

	keyOff, err := s.arena.Intern(key)
	if err != nil {
		return 0, err
	}
	valOff, err := s.arena.Intern(value)
	if err != nil {
		return 0, err
	}

	newIdx := s.allocLocked()
	s.entries[newIdx] = entry{
		namespace: namespace,
		keyOff:    keyOff,
		valOff:    valOff,
		valLen:    uint32(len(value)),
		next:      head,
	}
	_ = prevIdx
	return newIdx, nil
}

// Get returns the value stored for namespace/key on the chain rooted at
// head, or ErrNotFound.
func (s *Store) Get(head uint32, namespace Namespace, key []byte) ([]byte, error) {
	s.mu.Lock()
	idx, _, err := s.findLocked(head, namespace, key)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if idx == NoneHead {
		s.mu.Unlock()
		return nil, errs.Wrap(errs.ErrNotFound, "xattr: key does not exist")
	}
	valOff, valLen := s.entries[idx].valOff, s.entries[idx].valLen
	s.mu.Unlock()

	value, err := s.arena.Get(valOff)
	if err != nil {
		return nil, err
	}
	return value[:valLen], nil
}

// List walks the chain rooted at head and returns every entry's
// namespace and key, in chain order (most recently added key first;
// replacing a key's value keeps its position).
func (s *Store) List(head uint32) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	cur := head
	for cur != NoneHead {
		if int(cur) >= len(s.entries) || s.entries[cur].free {
			return nil, errs.Wrap(errs.ErrCorrupt, "xattr: chain references a freed entry")
		}
		e := s.entries[cur]
		key, err := s.arena.Get(e.keyOff)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Namespace: e.namespace, Key: key})
		cur = e.next
	}
	return out, nil
}

// Remove deletes namespace/key from the chain rooted at head, returning
// the chain's new head.
func (s *Store) Remove(head uint32, namespace Namespace, key []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, prevIdx, err := s.findLocked(head, namespace, key)
	if err != nil {
		return 0, err
	}
	if idx == NoneHead {
		return 0, errs.Wrap(errs.ErrNotFound, "xattr: key does not exist")
	}

	next := s.entries[idx].next
	newHead := head
	if prevIdx == NoneHead {
		newHead = next
	} else {
		s.entries[prevIdx].next = next
	}

	s.freeLocked(idx)
	return newHead, nil
}

// findLocked walks the chain rooted at head looking for namespace/key,
// returning (entryIndex, previousEntryIndex, err). entryIndex is NoneHead
// if not found; previousEntryIndex is NoneHead if the match is the head
// itself or there is no match.
func (s *Store) findLocked(head uint32, namespace Namespace, key []byte) (uint32, uint32, error) {
	cur := head
	prev := NoneHead
	for cur != NoneHead {
		if int(cur) >= len(s.entries) || s.entries[cur].free {
			return 0, 0, errs.Wrap(errs.ErrCorrupt, "xattr: chain references a freed entry")
		}
		e := s.entries[cur]
		if e.namespace == namespace {
			k, err := s.arena.Get(e.keyOff)
			if err != nil {
				return 0, 0, err
			}
			if string(k) == string(key) {
				return cur, prev, nil
			}
		}
		prev = cur
		cur = e.next
	}
	return NoneHead, NoneHead, nil
}

func (s *Store) statsLocked(head uint32) (count int, totalBytes int) {
	cur := head
	for cur != NoneHead && int(cur) < len(s.entries) && !s.entries[cur].free {
		e := s.entries[cur]
		count++
		if k, err := s.arena.Get(e.keyOff); err == nil {
			totalBytes += len(k)
		}
		totalBytes += int(e.valLen)
		cur = e.next
	}
	return
}

func (s *Store) allocLocked() uint32 {
	if s.freeHead != NoneHead {
		idx := s.freeHead
		s.freeHead = s.entries[idx].next
		return idx
	}
	s.entries = append(s.entries, entry{})
	return uint32(len(s.entries) - 1)
}

func (s *Store) freeLocked(idx uint32) {
	s.entries[idx] = entry{free: true, next: s.freeHead}
	s.freeHead = idx
}
