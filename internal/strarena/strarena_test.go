package strarena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIsIdempotent(t *testing.T) {
	a := New(1 << 20)

	off1, err := a.Intern([]byte("hello.txt"))
	require.NoError(t, err)

	off2, err := a.Intern([]byte("hello.txt"))
	require.NoError(t, err)

	assert.Equal(t, off1, off2)

	got, err := a.Get(off1)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", string(got))
}

func TestInternDistinctNames(t *testing.T) {
	a := New(1 << 20)

	offA, err := a.Intern([]byte("a"))
	require.NoError(t, err)
	offB, err := a.Intern([]byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, offA, offB)
}

func TestGetInvalidOffsetIsCorruption(t *testing.T) {
	a := New(1 << 20)
	_, err := a.Get(9999)
	assert.Error(t, err)
}

func TestNoneOffsetResolvesToNil(t *testing.T) {
	a := New(1 << 20)
	got, err := a.Get(NoneOffset)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCapacityExhausted(t *testing.T) {
	a := New(8)
	_, err := a.Intern([]byte("this string is too long for the arena"))
	assert.Error(t, err)
}

func TestHighWaterMarkGrowsMonotonically(t *testing.T) {
	a := New(1 << 20)
	prev := a.HighWaterMark()
	for _, s := range []string{"foo", "bar", "baz"} {
		_, err := a.Intern([]byte(s))
		require.NoError(t, err)
		cur := a.HighWaterMark()
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestLoadRebuildsIndex(t *testing.T) {
	a := New(1 << 20)
	off, err := a.Intern([]byte("persisted"))
	require.NoError(t, err)

	reloaded, err := Load(a.Bytes(), 1<<20)
	require.NoError(t, err)

	got, err := reloaded.Get(off)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))

	// Interning the same bytes again after reload must resolve to the same
	// offset, proving the hash index was reconstructed.
	off2, err := reloaded.Intern([]byte("persisted"))
	require.NoError(t, err)
	assert.Equal(t, off, off2)
}
