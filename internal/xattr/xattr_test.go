package xattr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/strarena"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(strarena.New(1<<20), 4, 1<<10)
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newStore(t)
	head, err := s.Set(NoneHead, NamespaceUser, []byte("color"), []byte("blue"), 0)
	require.NoError(t, err)

	val, err := s.Get(head, NamespaceUser, []byte("color"))
	require.NoError(t, err)
	assert.Equal(t, "blue", string(val))
}

func TestSetCreateOnlyFailsIfExists(t *testing.T) {
	s := newStore(t)
	head, err := s.Set(NoneHead, NamespaceUser, []byte("k"), []byte("v1"), 0)
	require.NoError(t, err)

	_, err = s.Set(head, NamespaceUser, []byte("k"), []byte("v2"), FlagCreate)
	assert.ErrorIs(t, err, errs.ErrExists)
}

func TestSetReplaceOnlyFailsIfAbsent(t *testing.T) {
	s := newStore(t)
	_, err := s.Set(NoneHead, NamespaceUser, []byte("k"), []byte("v"), FlagReplace)
	assert.Error(t, err)
}

func TestRemoveAbsentFails(t *testing.T) {
	s := newStore(t)
	_, err := s.Remove(NoneHead, NamespaceUser, []byte("nope"))
	assert.Error(t, err)
}

func TestListReturnsAllKeys(t *testing.T) {
	s := newStore(t)
	head, err := s.Set(NoneHead, NamespaceUser, []byte("a"), []byte("1"), 0)
	require.NoError(t, err)
	head, err = s.Set(head, NamespaceUser, []byte("b"), []byte("2"), 0)
	require.NoError(t, err)

	entries, err := s.List(head)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRemoveThenListShrinks(t *testing.T) {
	s := newStore(t)
	head, err := s.Set(NoneHead, NamespaceUser, []byte("a"), []byte("1"), 0)
	require.NoError(t, err)
	head, err = s.Set(head, NamespaceUser, []byte("b"), []byte("2"), 0)
	require.NoError(t, err)

	head, err = s.Remove(head, NamespaceUser, []byte("a"))
	require.NoError(t, err)

	entries, err := s.List(head)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", string(entries[0].Key))
}

func TestMaxPerInodeEnforced(t *testing.T) {
	s := newStore(t)
	head := uint32(NoneHead)
	var err error
	for i := 0; i < 4; i++ {
		head, err = s.Set(head, NamespaceUser, []byte{byte('a' + i)}, []byte("v"), 0)
		require.NoError(t, err)
	}
	_, err = s.Set(head, NamespaceUser, []byte("e"), []byte("v"), 0)
	assert.Error(t, err)
}
