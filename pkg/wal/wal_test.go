package wal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, path string, recs ...string) int64 {
	t.Helper()
	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Append([]byte(r)))
	}
	require.NoError(t, w.Flush())
	off := w.Offset()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	return off
}

func TestReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.wal")
	off := writeRecords(t, path, "a", "bb", "ccc")
	assert.Equal(t, int64(3*headerSize+6), off)

	var got []string
	st, err := Replay(path, ReplayOptions{}, func(p []byte) error {
		got = append(got, string(p))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb", "ccc"}, got)
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, off, st.LastGoodOffset)

	// 追加写从文件末尾继续
	off2 := writeRecords(t, path, "dddd")
	assert.Equal(t, off+headerSize+4, off2)
}

func TestReplay_MissingFileIsEmpty(t *testing.T) {
	st, err := Replay(filepath.Join(t.TempDir(), "none.wal"), ReplayOptions{}, func([]byte) error {
		t.Fatal("unexpected record")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, st.Records)
}

func TestReplay_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.wal")
	good := writeRecords(t, path, "first", "second")

	// 模拟崩溃：只写了一半的 header
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{9, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Replay(path, ReplayOptions{}, func([]byte) error { return nil })
	assert.True(t, errors.Is(err, ErrCorruptHeader))

	st, err := Replay(path, ReplayOptions{AllowTruncatedTail: true}, func([]byte) error { return nil })
	require.NoError(t, err)
	assert.True(t, st.TruncatedTail)
	assert.Equal(t, 2, st.Records)

	r, err := OpenReader(path, 0, ReaderOptions{AllowTruncatedTail: true})
	require.NoError(t, err)
	for {
		if _, _, err = r.Next(); err != nil {
			break
		}
	}
	assert.Equal(t, io.EOF, err)
	assert.True(t, r.TruncatedTail())
	assert.Equal(t, good, r.LastGoodOffset())
	require.NoError(t, r.Close())

	require.NoError(t, TruncateTo(path, good))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, good, fi.Size())
}

func TestReader_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ev.wal")
	writeRecords(t, path, "payload")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[len(b)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, b, 0o644))

	r, err := OpenReader(path, 0, ReaderOptions{})
	require.NoError(t, err)
	defer r.Close()
	_, _, err = r.Next()
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
}

func TestReader_FromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ev.wal")
	writeRecords(t, path, "one")
	mid, err := os.Stat(path)
	require.NoError(t, err)
	writeRecords(t, path, "two")

	r, err := OpenReader(path, mid.Size(), ReaderOptions{})
	require.NoError(t, err)
	defer r.Close()
	p, next, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", string(p))
	assert.Equal(t, mid.Size()+headerSize+3, next)
	_, _, err = r.Next()
	assert.Equal(t, io.EOF, err)
}
