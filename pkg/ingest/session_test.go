package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAssemblyInOrder(t *testing.T) {
	s := NewSessionStore()

	for i, chunk := range []string{"aa", "bb", "cc"} {
		progress, assembled, err := s.AddChunk("u1", i, 3, "binary", "", []byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, i+1, progress.Received)
		if i < 2 {
			assert.Nil(t, assembled)
		} else {
			assert.Equal(t, "aabbcc", string(assembled))
		}
	}

	assert.Equal(t, 0, s.Len(), "completed session should be deleted")
}

func TestSessionAssemblyOutOfOrder(t *testing.T) {
	s := NewSessionStore()

	// Indices delivered 2, 0, 1 must still concatenate by index.
	_, assembled, err := s.AddChunk("u1", 2, 3, "file", "v.bin", []byte("c"))
	require.NoError(t, err)
	assert.Nil(t, assembled)

	_, assembled, err = s.AddChunk("u1", 0, 3, "file", "v.bin", []byte("a"))
	require.NoError(t, err)
	assert.Nil(t, assembled)

	_, assembled, err = s.AddChunk("u1", 1, 3, "file", "v.bin", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(assembled))
}

func TestSessionInterleavedUploads(t *testing.T) {
	s := NewSessionStore()

	_, _, err := s.AddChunk("first", 0, 2, "binary", "", []byte("1a"))
	require.NoError(t, err)
	_, _, err = s.AddChunk("second", 1, 2, "binary", "", []byte("2b"))
	require.NoError(t, err)
	_, _, err = s.AddChunk("second", 0, 2, "binary", "", []byte("2a"))
	require.NoError(t, err)

	// second completed; first is still waiting.
	assert.Equal(t, 1, s.Len())

	_, assembled, err := s.AddChunk("first", 1, 2, "binary", "", []byte("1b"))
	require.NoError(t, err)
	assert.Equal(t, "1a1b", string(assembled))
	assert.Equal(t, 0, s.Len())
}

func TestSessionDuplicateChunkIdempotent(t *testing.T) {
	s := NewSessionStore()

	_, _, err := s.AddChunk("u", 0, 2, "binary", "", []byte("x"))
	require.NoError(t, err)

	// Retrying the same chunk neither completes nor corrupts.
	progress, assembled, err := s.AddChunk("u", 0, 2, "binary", "", []byte("x"))
	require.NoError(t, err)
	assert.Nil(t, assembled)
	assert.Equal(t, 1, progress.Received)

	_, assembled, err = s.AddChunk("u", 1, 2, "binary", "", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, "xy", string(assembled))
}

func TestSessionRejectsBadInput(t *testing.T) {
	s := NewSessionStore()

	_, _, err := s.AddChunk("u", 0, 0, "binary", "", nil)
	assert.ErrorContains(t, err, "total chunks")

	_, _, err = s.AddChunk("u", -1, 3, "binary", "", nil)
	assert.ErrorContains(t, err, "outside")

	_, _, err = s.AddChunk("u", 3, 3, "binary", "", nil)
	assert.ErrorContains(t, err, "outside")

	// Failed adds never created a session.
	assert.Equal(t, 0, s.Len())
}

func TestSessionTotalMismatch(t *testing.T) {
	s := NewSessionStore()

	_, _, err := s.AddChunk("u", 0, 3, "binary", "", []byte("a"))
	require.NoError(t, err)

	_, _, err = s.AddChunk("u", 1, 5, "binary", "", []byte("b"))
	assert.ErrorContains(t, err, "mismatch")

	// Session unchanged by the rejected chunk.
	progress, _, ok := s.Get("u")
	require.True(t, ok)
	assert.Equal(t, 1, progress.Received)
	assert.Equal(t, 3, progress.Total)
}

func TestSessionGetProgress(t *testing.T) {
	s := NewSessionStore()

	_, _, err := s.AddChunk("u", 2, 4, "file", "big.dat", []byte("c"))
	require.NoError(t, err)

	progress, sess, ok := s.Get("u")
	require.True(t, ok)
	assert.Equal(t, 1, progress.Received)
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, []int{0, 1, 3}, progress.Missing)
	assert.Equal(t, "file", progress.Kind)
	assert.Equal(t, "big.dat", sess.Filename)

	_, _, ok = s.Get("unknown")
	assert.False(t, ok)
}
