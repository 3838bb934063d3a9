package assembler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/gorent/metainfo"
)

// TestSingleFileAssembly covers the common case: a 4-byte single-file
// torrent split into two 2-byte pieces "ab" and "cd" assembles to a.bin
// containing 61 62 63 64.
func TestSingleFileAssembly(t *testing.T) {
	dir := t.TempDir()
	info := &metainfo.Info{
		PieceLength: 2,
		TotalLength: 4,
		PieceHashes: make([][20]byte, 2),
		FileMap: []metainfo.FileEntry{
			{Start: 0, End: 4, Length: 4, Path: "a.bin"},
		},
	}

	a := New(info, dir)
	go a.Run()

	a.Submit(Task{PieceIndex: 0, Bytes: []byte("ab")})
	a.Submit(Task{PieceIndex: 1, Bytes: []byte("cd")})
	a.Close()
	<-a.Done()

	select {
	case err := <-a.Errors():
		t.Fatalf("unexpected assembler error: %v", err)
	default:
	}

	got, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x61, 0x62, 0x63, 0x64}, got)
}

// TestMultiFileAssemblyStraddlesBoundary covers a piece straddling two
// files: it writes only the overlapping bytes to each.
func TestMultiFileAssemblyStraddlesBoundary(t *testing.T) {
	dir := t.TempDir()
	info := &metainfo.Info{
		PieceLength: 4,
		TotalLength: 6,
		PieceHashes: make([][20]byte, 2),
		FileMap: []metainfo.FileEntry{
			{Start: 0, End: 3, Length: 3, Path: filepath.Join("out", "x")},
			{Start: 3, End: 6, Length: 3, Path: filepath.Join("out", "y")},
		},
	}

	a := New(info, dir)
	go a.Run()

	a.Submit(Task{PieceIndex: 0, Bytes: []byte("AAAB")})
	a.Submit(Task{PieceIndex: 1, Bytes: []byte("BB")})
	a.Close()
	<-a.Done()

	select {
	case err := <-a.Errors():
		t.Fatalf("unexpected assembler error: %v", err)
	default:
	}

	x, err := os.ReadFile(filepath.Join(dir, "out", "x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("AAA"), x)

	y, err := os.ReadFile(filepath.Join(dir, "out", "y"))
	require.NoError(t, err)
	assert.Equal(t, []byte("BBB"), y)
}

func TestSingleFileLastPieceShorterDoesNotExtendFile(t *testing.T) {
	dir := t.TempDir()
	info := &metainfo.Info{
		PieceLength: 4,
		TotalLength: 6,
		PieceHashes: make([][20]byte, 2),
		FileMap: []metainfo.FileEntry{
			{Start: 0, End: 6, Length: 6, Path: "a.bin"},
		},
	}

	a := New(info, dir)
	go a.Run()
	a.Submit(Task{PieceIndex: 0, Bytes: []byte("AAAA")})
	a.Submit(Task{PieceIndex: 1, Bytes: []byte("BB")})
	a.Close()
	<-a.Done()

	got, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAABB"), got)
	assert.Len(t, got, 6)
}

func TestWriteRejectsWrongByteCount(t *testing.T) {
	dir := t.TempDir()
	info := &metainfo.Info{
		PieceLength: 4,
		TotalLength: 4,
		PieceHashes: make([][20]byte, 1),
		FileMap: []metainfo.FileEntry{
			{Start: 0, End: 4, Length: 4, Path: "a.bin"},
		},
	}

	a := New(info, dir)
	err := a.write(Task{PieceIndex: 0, Bytes: []byte("AB")})
	assert.Error(t, err)
}
