package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotLoadRoundTrip(t *testing.T) {
	s := New(8, 4)
	require.NoError(t, s.Write(1, 0, []byte("hello world")))
	require.NoError(t, s.Write(2, 0, []byte("second file")))

	snap := s.Snapshot()
	loaded, err := Load(8, 4, snap)
	require.NoError(t, err)

	buf := make([]byte, 11)
	n, err := loaded.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))

	n, err = loaded.Read(2, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "second file", string(buf))
}

func TestLoadEmptySnapshotIsEmptyStore(t *testing.T) {
	loaded, err := Load(8, 4, nil)
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := loaded.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLoadTruncatedSnapshotFails(t *testing.T) {
	_, err := Load(8, 4, []byte{1, 2, 3})
	assert.Error(t, err)
}
