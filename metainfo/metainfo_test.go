package metainfo

import (
	"bytes"
	"crypto/sha1"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(s string) string {
	h := sha1.Sum([]byte(s))
	return string(h[:])
}

// buildTorrentBytes hand-assembles a minimal bencoded single-file torrent,
// matching the scenario 1 fixture byte-for-byte.
func buildTorrentBytes(name string, length, pieceLength int, pieces string) []byte {
	var b bytes.Buffer
	b.WriteString("d8:announce22:http://tracker.example4:infod")
	b.WriteString("6:lengthi")
	b.WriteString(itoa(length))
	b.WriteString("e4:name")
	b.WriteString(itoa(len(name)))
	b.WriteString(":")
	b.WriteString(name)
	b.WriteString("12:piece lengthi")
	b.WriteString(itoa(pieceLength))
	b.WriteString("e6:pieces")
	b.WriteString(itoa(len(pieces)))
	b.WriteString(":")
	b.WriteString(pieces)
	b.WriteString("ee")
	return b.Bytes()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func TestOpenSingleFileScenario(t *testing.T) {
	pieces := hashOf("ab") + hashOf("cd")
	data := buildTorrentBytes("a.bin", 4, 2, pieces)

	info, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 2, info.PieceCount())
	assert.EqualValues(t, 4, info.TotalLength)
	require.Len(t, info.FileMap, 1)
	assert.Equal(t, FileEntry{Start: 0, End: 4, Length: 4, Path: "a.bin"}, info.FileMap[0])

	expectedHash := sha1.Sum([]byte("d6:lengthi4e4:name5:a.bin12:piece lengthi2e6:pieces40:" + pieces + "e"))
	assert.Equal(t, expectedHash, info.InfoHash)
}

func TestPieceLengthAtLastPieceShorter(t *testing.T) {
	pieces := hashOf("ab") + hashOf("c")
	data := buildTorrentBytes("a.bin", 3, 2, pieces)

	info, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	l0, err := info.PieceLengthAt(0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, l0)

	l1, err := info.PieceLengthAt(1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, l1)
}

func TestOpenRejectsNonMultipleOf20Pieces(t *testing.T) {
	data := buildTorrentBytes("a.bin", 2, 2, "short")
	_, err := Open(bytes.NewReader(data))
	require.Error(t, err)
}

func TestOpenRejectsZeroPieceLength(t *testing.T) {
	data := buildTorrentBytes("a.bin", 2, 0, hashOf("ab"))
	_, err := Open(bytes.NewReader(data))
	require.Error(t, err)
}

func TestFlattenAnnounceOrderPreserved(t *testing.T) {
	urls := flattenAnnounce("http://primary", [][]string{
		{"http://primary", "http://tier1-b"},
		{"udp://tier2"},
	})
	assert.Equal(t, []string{"http://primary", "http://tier1-b", "udp://tier2"}, urls)
}
