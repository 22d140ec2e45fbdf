package nodearena

import (
	"sync"

	"github.com/razorfs/razorfs/internal/errs"
)

// Arena is the fixed-capacity store of Node records, addressed by 32-bit
// index, with free-list reuse. A single writer lock guards allocation and
// freeing; it is held only for the duration of the slot operation itself,
// never across a caller's higher-level tree operation, per the engine's
// shared-resource policy.
//
// nodes holds *Node rather than Node: growing the backing slice on Alloc
// never moves an already-allocated node, since each slot is its own heap
// object and only the slice of pointers to it gets reallocated. A caller
// that retains a *Node from Get across a later Alloc on a different index
// -- or from a concurrent goroutine's Alloc, since growth is arena-global
// and not scoped to any one node's lock -- still sees a stable address,
// the same guarantee internal/lockorder's []*sync.RWMutex gives its
// callers for the same reason.
type Arena struct {
	mu       sync.Mutex
	nodes    []*Node
	freeHead uint32 // SentinelIndex when the free list is empty
	capacity int
}

// New creates an empty arena that can hold up to capacity nodes. When
// capacity > 0 the backing slice is pre-sized so ordinary growth within
// capacity never reallocates it either.
func New(capacity int) *Arena {
	a := &Arena{
		freeHead: SentinelIndex,
		capacity: capacity,
	}
	if capacity > 0 {
		a.nodes = make([]*Node, 0, capacity)
	}
	return a
}

// Len returns the number of slots ever allocated, including freed ones
// still resident in the backing slice.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nodes)
}

// Alloc reserves a node slot, reusing a freed one if the free list is
// non-empty, and returns it in the defined zeroed state: sentinel parent,
// no children, zero link count.
func (a *Arena) Alloc() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freeHead != SentinelIndex {
		idx := a.freeHead
		slot := a.nodes[idx]
		a.freeHead = slot.Parent
		*slot = Node{Parent: SentinelIndex, allocated: true}
		return idx, nil
	}

	if a.capacity > 0 && len(a.nodes) >= a.capacity {
		return 0, errs.Wrap(errs.ErrCapacity, "nodearena: capacity exceeded")
	}

	a.nodes = append(a.nodes, &Node{Parent: SentinelIndex, allocated: true})
	return uint32(len(a.nodes) - 1), nil
}

// Free retires index to the free list. The caller must have already
// ensured the node's link count is zero and no handle keeps it alive
// (invariant 7 in spec.md §3); the arena itself does not re-check that.
func (a *Arena) Free(index uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.boundsCheckLocked(index); err != nil {
		return err
	}

	*a.nodes[index] = Node{Parent: a.freeHead, allocated: false}
	a.freeHead = index
	return nil
}

func (a *Arena) boundsCheckLocked(index uint32) error {
	if int(index) >= len(a.nodes) {
		return errs.Wrap(errs.ErrInvalid, "nodearena: index out of range")
	}
	return nil
}

// Get returns a pointer to the node at index for read or write. The
// returned pointer stays valid for as long as the node is allocated --
// Alloc growing the arena, on this or any other goroutine, never moves
// it -- but callers are still expected to hold the node's per-node lock
// (internal/lockorder) before calling Get and for as long as they retain
// the pointer, since nothing stops a concurrent Free/Alloc cycle on the
// same index from recycling the slot out from under an unlocked reader.
func (a *Arena) Get(index uint32) (*Node, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.boundsCheckLocked(index); err != nil {
		return nil, err
	}
	if !a.nodes[index].allocated {
		return nil, errs.Wrap(errs.ErrInvalid, "nodearena: index refers to a free slot")
	}
	return a.nodes[index], nil
}

// Snapshot returns a copy of every slot, free-list slots included, used by the rebalance
// pass and by consistency checks after WAL replay.
func (a *Arena) Snapshot() []Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Node, len(a.nodes))
	for i, n := range a.nodes {
		out[i] = *n
	}
	return out
}

// FreeHead returns the current free-list head, for callers that need to
// persist or rebuild the arena's raw layout (internal/shm, internal/recovery).
func (a *Arena) FreeHead() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeHead
}

// Restore replaces the arena's contents wholesale -- used by rebalance
// (after recomputing a BFS-ordered layout) and by recovery when it loads
// the persisted node arena from the shared region.
func (a *Arena) Restore(nodes []Node, freeHead uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ptrs := make([]*Node, len(nodes))
	for i := range nodes {
		n := nodes[i]
		ptrs[i] = &n
	}
	a.nodes = ptrs
	a.freeHead = freeHead
}
