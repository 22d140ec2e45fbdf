package lockorder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSetDedupesAndSorts(t *testing.T) {
	s := NewLockSet(5, 1, 5, 3)
	assert.Equal(t, []uint32{1, 3, 5}, s.Indices())
}

func TestAcquireWriteOrdersByIndex(t *testing.T) {
	r := New()
	var order []uint32
	var mu sync.Mutex

	set := NewLockSet(3, 1, 2)
	release := r.AcquireWrite(set)
	mu.Lock()
	order = append(order, set.Indices()...)
	mu.Unlock()
	release()

	assert.Equal(t, []uint32{1, 2, 3}, order)
}

func TestCoupledBoundsToTwoLocks(t *testing.T) {
	r := New()
	c := r.BeginRead(0)
	c.Descend(1)
	// Index 0's reader lock must now be free: a writer should acquire it
	// without blocking.
	done := make(chan struct{})
	go func() {
		r.Lock(0)
		r.Unlock(0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer on released node blocked; lock coupling held more than two locks")
	}

	c.Release()
}

func TestRegistryGrowsLazily(t *testing.T) {
	r := New()
	r.RLock(100)
	r.RUnlock(100)
}
