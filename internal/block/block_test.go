package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	s := New(16, 8)
	require.NoError(t, s.Write(1, 0, []byte("hello world")))

	buf := make([]byte, 11)
	n, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))
}

func TestWriteSpansMultipleBlocks(t *testing.T) {
	s := New(4, 8)
	data := []byte("0123456789")
	require.NoError(t, s.Write(1, 0, data))

	buf := make([]byte, len(data))
	n, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)
}

func TestWriteAtOffsetZeroFillsGap(t *testing.T) {
	s := New(4, 8)
	require.NoError(t, s.Write(1, 8, []byte("x")))

	buf := make([]byte, 9)
	n, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, append(make([]byte, 8), 'x'), buf)
}

func TestReadUnwrittenInodeReturnsZero(t *testing.T) {
	s := New(4, 8)
	buf := make([]byte, 4)
	n, err := s.Read(42, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOverwriteWithinBlock(t *testing.T) {
	s := New(16, 8)
	require.NoError(t, s.Write(1, 0, []byte("aaaaaaaaaa")))
	require.NoError(t, s.Write(1, 2, []byte("BB")))

	buf := make([]byte, 10)
	_, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "aaBBaaaaaa", string(buf))
}

func TestTruncateShrinksAndZeroFillsTail(t *testing.T) {
	s := New(4, 8)
	require.NoError(t, s.Write(1, 0, []byte("0123456789")))
	require.NoError(t, s.Truncate(1, 5))

	buf := make([]byte, 8)
	n, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{'0', '1', '2', '3', '4', 0, 0, 0}, buf)
}

func TestTruncateToZeroRemovesBlocks(t *testing.T) {
	s := New(4, 8)
	require.NoError(t, s.Write(1, 0, []byte("0123")))
	require.NoError(t, s.Truncate(1, 0))

	buf := make([]byte, 4)
	n, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTruncateGrowsWithZeroes(t *testing.T) {
	s := New(4, 8)
	require.NoError(t, s.Write(1, 0, []byte("ab")))
	require.NoError(t, s.Truncate(1, 6))

	buf := make([]byte, 6)
	n, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0, 0}, buf)
}

func TestRemoveDropsAllBlocks(t *testing.T) {
	s := New(4, 8)
	require.NoError(t, s.Write(1, 0, []byte("0123")))
	s.Remove(1)

	buf := make([]byte, 4)
	n, err := s.Read(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCompressionRatioReportsPresence(t *testing.T) {
	s := New(64, 8)
	_, ok := s.CompressionRatio(1)
	assert.False(t, ok)

	highlyCompressible := make([]byte, 64)
	require.NoError(t, s.Write(1, 0, highlyCompressible))

	ratio, ok := s.CompressionRatio(1)
	require.True(t, ok)
	assert.Greater(t, ratio, 0.0)
	assert.LessOrEqual(t, ratio, 1.0)
}

func TestNegativeOffsetRejected(t *testing.T) {
	s := New(4, 8)
	assert.Error(t, s.Write(1, -1, []byte("x")))
	_, err := s.Read(1, -1, make([]byte, 1))
	assert.Error(t, err)
}
