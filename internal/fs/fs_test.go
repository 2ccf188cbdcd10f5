package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.sdb")
	f, err := Create(lfs, fpath)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	require.NoError(t, f.Close())

	renamed := filepath.Join(dir, "renamed.sdb")
	require.NoError(t, lfs.Rename(fpath, renamed))
	_, err = lfs.Stat(fpath)
	assert.True(t, os.IsNotExist(err))

	f, err = Open(lfs, renamed)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	require.NoError(t, f.Close())

	require.NoError(t, lfs.Remove(renamed))
}

func TestFaultyFS(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("bad", Fault{FailAfterBytes: 4})

	t.Run("matching file fails after limit", func(t *testing.T) {
		f, err := Create(ffs, filepath.Join(tmp, "bad.sdb"))
		require.NoError(t, err)
		defer f.Close()

		n, err := f.Write([]byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = f.Write([]byte("defg"))
		assert.ErrorIs(t, err, ErrInjected)
		assert.Equal(t, 1, n)

		data, err := os.ReadFile(filepath.Join(tmp, "bad.sdb"))
		require.NoError(t, err)
		assert.Equal(t, "abcd", string(data))
	})

	t.Run("other files are untouched", func(t *testing.T) {
		f, err := Create(ffs, filepath.Join(tmp, "good.sdb"))
		require.NoError(t, err)
		_, err = f.Write([]byte("0123456789"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	})

	t.Run("sync and close faults", func(t *testing.T) {
		ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true, FailOnClose: true})
		f, err := Create(ffs, filepath.Join(tmp, "sync.sdb"))
		require.NoError(t, err)
		assert.ErrorIs(t, f.Sync(), ErrInjected)
		assert.ErrorIs(t, f.Close(), ErrInjected)
	})
}

func TestWriteAtomic(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "t1", "b0.sdb")

	require.NoError(t, WriteAtomic(Default, target, []byte("first")))
	require.NoError(t, WriteAtomic(Default, target, []byte("second")))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	_, err = os.Stat(target + TempSuffix)
	assert.True(t, os.IsNotExist(err))

	t.Run("FailedWriteKeepsPrevious", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule(TempSuffix, Fault{FailAfterBytes: 2})

		err := WriteAtomic(ffs, target, []byte("third"))
		require.ErrorIs(t, err, ErrInjected)

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
		partial, err := os.ReadFile(target + TempSuffix)
		require.NoError(t, err)
		assert.Equal(t, "th", string(partial))
	})
}
