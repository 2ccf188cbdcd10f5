package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("ReadOnlyFile", func(t *testing.T) {
		content := []byte("NODEDB dump body")
		path := filepath.Join(t.TempDir(), "b0.sdb")
		require.NoError(t, os.WriteFile(path, content, 0o600))

		m, err := Open(path, AccessSequential)
		require.NoError(t, err)

		assert.False(t, m.Anonymous())
		assert.Equal(t, len(content), m.Len())
		assert.Equal(t, content, m.Bytes())

		require.NoError(t, m.Close())
		require.NoError(t, m.Close(), "close is idempotent")
		assert.Nil(t, m.Bytes())
		assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
	})

	t.Run("EmptyFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		assert.Zero(t, m.Len())
		assert.Nil(t, m.Bytes())
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "missing"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestMapAnon(t *testing.T) {
	t.Run("ZeroFilledAndWritable", func(t *testing.T) {
		m, err := MapAnon(64*1024, AccessRandom)
		require.NoError(t, err)
		defer m.Close()

		assert.True(t, m.Anonymous())
		data := m.Bytes()
		require.Len(t, data, 64*1024)
		for _, b := range data[:128] {
			assert.Zero(t, b)
		}
		data[0] = 0xAB
		data[len(data)-1] = 0xCD
		assert.Equal(t, byte(0xAB), m.Bytes()[0])
	})

	t.Run("AdviceIsAccepted", func(t *testing.T) {
		m, err := MapAnon(2*1024*1024, AccessHugePage)
		require.NoError(t, err)
		defer m.Close()

		for _, p := range []AccessPattern{AccessDefault, AccessRandom, AccessSequential, AccessWillNeed, AccessCold} {
			assert.NoError(t, m.Advise(p), p.String())
		}
	})

	t.Run("DontNeedRangeReadsZero", func(t *testing.T) {
		page := os.Getpagesize()
		m, err := MapAnon(4 * page)
		require.NoError(t, err)
		defer m.Close()

		data := m.Bytes()
		data[0] = 1
		data[2*page] = 2
		require.NoError(t, m.AdviseRange(2*page, 2*page, AccessDontNeed))
		assert.Equal(t, byte(1), data[0])
		assert.Zero(t, data[2*page])
	})

	t.Run("InvalidRange", func(t *testing.T) {
		m, err := MapAnon(4096)
		require.NoError(t, err)
		defer m.Close()
		assert.ErrorIs(t, m.AdviseRange(-1, 10, AccessDontNeed), ErrInvalidRange)
		assert.ErrorIs(t, m.AdviseRange(0, m.Len()+1, AccessDontNeed), ErrInvalidRange)
	})

	t.Run("InvalidSize", func(t *testing.T) {
		_, err := MapAnon(0)
		assert.ErrorIs(t, err, ErrInvalidSize)
	})
}
