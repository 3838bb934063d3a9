// Package metainfo decodes bencoded .torrent files into the descriptor
// used by the rest of the download engine: infohash, piece hash table,
// and file layout map.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/jackpal/bencode-go"
)

const hashSize = 20

// Error wraps a fatal metainfo problem; the engine refuses to start on it.
type Error struct {
	msg string
}

func (e *Error) Error() string { return "metainfo: " + e.msg }

func newError(format string, args ...interface{}) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// FileEntry describes one output file's position in the concatenated
// piece stream. Intervals are half-open [Start, End).
type FileEntry struct {
	Start  int64
	End    int64
	Length int64
	Path   string
}

// Info is the immutable descriptor derived from a metainfo file. Every
// field is read-only once returned from Open.
type Info struct {
	InfoHash     [hashSize]byte
	AnnounceURLs []string
	PieceLength  int64
	PieceHashes  [][hashSize]byte
	TotalLength  int64
	FileMap      []FileEntry
	Name         string
}

// PieceCount returns the number of pieces described by the torrent.
func (i *Info) PieceCount() int {
	return len(i.PieceHashes)
}

// PieceHash returns the expected SHA-1 digest for piece index.
func (i *Info) PieceHash(index int) ([hashSize]byte, error) {
	if index < 0 || index >= len(i.PieceHashes) {
		return [hashSize]byte{}, newError("piece index %d out of range [0,%d)", index, len(i.PieceHashes))
	}
	return i.PieceHashes[index], nil
}

// PieceLengthAt returns the actual byte length of piece index: PieceLength
// for every piece except possibly the last, which may be shorter.
func (i *Info) PieceLengthAt(index int) (int64, error) {
	n := i.PieceCount()
	if index < 0 || index >= n {
		return 0, newError("piece index %d out of range [0,%d)", index, n)
	}
	if index < n-1 {
		return i.PieceLength, nil
	}
	return i.TotalLength - int64(n-1)*i.PieceLength, nil
}

// PieceBounds returns the [begin, end) byte range of piece index within
// the concatenated content stream.
func (i *Info) PieceBounds(index int) (begin, end int64, err error) {
	length, err := i.PieceLengthAt(index)
	if err != nil {
		return 0, 0, err
	}
	begin = int64(index) * i.PieceLength
	return begin, begin + length, nil
}

type bencodeFile struct {
	Length int      `bencode:"length"`
	Path   []string `bencode:"path"`
}

type bencodeInfo struct {
	PieceLength int           `bencode:"piece length"`
	Pieces      string        `bencode:"pieces"`
	Name        string        `bencode:"name"`
	Length      int           `bencode:"length"`
	Files       []bencodeFile `bencode:"files"`
}

type bencodeTorrent struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         bencodeInfo
}

// Open decodes a metainfo file from r and derives its Info.
func Open(r io.Reader) (*Info, error) {
	// Decode the whole payload twice: once through the struct-typed
	// unmarshal for convenience fields, and once by re-locating the raw
	// "info" dictionary bytes so the infohash is computed on exactly the
	// bytes present in the source file, never on a re-encoding.
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, newError("read metainfo: %s", err)
	}

	var bto bencodeTorrent
	if err := bencode.Unmarshal(bytes.NewReader(raw), &bto); err != nil {
		return nil, newError("decode bencode: %s", err)
	}
	if bto.Announce == "" {
		return nil, newError("missing required key: announce")
	}

	infoHash, err := computeInfoHash(raw)
	if err != nil {
		return nil, err
	}

	pieceHashes, err := splitPieceHashes(bto.Info.Pieces)
	if err != nil {
		return nil, err
	}
	if bto.Info.PieceLength <= 0 {
		return nil, newError("zero or negative piece length")
	}

	fileMap, total, name, err := buildFileMap(bto.Info)
	if err != nil {
		return nil, err
	}

	expectedPieces := int((total + int64(bto.Info.PieceLength) - 1) / int64(bto.Info.PieceLength))
	if expectedPieces != len(pieceHashes) {
		return nil, newError("piece count mismatch: expected %d from lengths, got %d hashes", expectedPieces, len(pieceHashes))
	}

	return &Info{
		InfoHash:     infoHash,
		AnnounceURLs: flattenAnnounce(bto.Announce, bto.AnnounceList),
		PieceLength:  int64(bto.Info.PieceLength),
		PieceHashes:  pieceHashes,
		TotalLength:  total,
		FileMap:      fileMap,
		Name:         name,
	}, nil
}

// computeInfoHash locates the raw "info" dictionary's bytes within the
// bencoded file and SHA-1s them byte-for-byte, without re-encoding.
func computeInfoHash(raw []byte) ([hashSize]byte, error) {
	key := []byte("4:info")
	idx := bytes.Index(raw, key)
	if idx < 0 {
		return [hashSize]byte{}, newError("missing required key: info")
	}
	start := idx + len(key)
	end, err := bencodeValueEnd(raw, start)
	if err != nil {
		return [hashSize]byte{}, newError("malformed info dictionary: %s", err)
	}
	return sha1.Sum(raw[start:end]), nil
}

// bencodeValueEnd returns the offset just past the single bencoded value
// beginning at raw[start].
func bencodeValueEnd(raw []byte, start int) (int, error) {
	if start >= len(raw) {
		return 0, errors.New("truncated")
	}
	switch raw[start] {
	case 'd', 'l':
		pos := start + 1
		for {
			if pos >= len(raw) {
				return 0, errors.New("truncated container")
			}
			if raw[pos] == 'e' {
				return pos + 1, nil
			}
			if raw[start] == 'd' {
				// key: always a bencoded string
				var err error
				pos, err = bencodeValueEnd(raw, pos)
				if err != nil {
					return 0, err
				}
			}
			var err error
			pos, err = bencodeValueEnd(raw, pos)
			if err != nil {
				return 0, err
			}
		}
	case 'i':
		pos := bytes.IndexByte(raw[start:], 'e')
		if pos < 0 {
			return 0, errors.New("unterminated integer")
		}
		return start + pos + 1, nil
	default:
		colon := bytes.IndexByte(raw[start:], ':')
		if colon < 0 {
			return 0, errors.New("unterminated string length")
		}
		var strLen int
		if _, err := fmt.Sscanf(string(raw[start:start+colon]), "%d", &strLen); err != nil {
			return 0, fmt.Errorf("bad string length: %s", err)
		}
		dataStart := start + colon + 1
		dataEnd := dataStart + strLen
		if dataEnd > len(raw) {
			return 0, errors.New("truncated string")
		}
		return dataEnd, nil
	}
}

func splitPieceHashes(pieces string) ([][hashSize]byte, error) {
	data := []byte(pieces)
	if len(data)%hashSize != 0 {
		return nil, newError("pieces blob length %d is not a multiple of %d", len(data), hashSize)
	}
	n := len(data) / hashSize
	hashes := make([][hashSize]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], data[i*hashSize:(i+1)*hashSize])
	}
	return hashes, nil
}

func buildFileMap(info bencodeInfo) (fileMap []FileEntry, total int64, name string, err error) {
	if len(info.Files) == 0 {
		if info.Name == "" {
			return nil, 0, "", newError("missing required key: info.name")
		}
		total = int64(info.Length)
		return []FileEntry{{Start: 0, End: total, Length: total, Path: info.Name}}, total, info.Name, nil
	}

	var offset int64
	entries := make([]FileEntry, 0, len(info.Files))
	for _, f := range info.Files {
		length := int64(f.Length)
		path := filepath.Join(f.Path...)
		entries = append(entries, FileEntry{
			Start:  offset,
			End:    offset + length,
			Length: length,
			Path:   path,
		})
		offset += length
	}
	return entries, offset, info.Name, nil
}

func flattenAnnounce(primary string, tiers [][]string) []string {
	seen := make(map[string]bool)
	urls := make([]string, 0, len(tiers)+1)
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}
	add(primary)
	for _, tier := range tiers {
		for _, u := range tier {
			add(u)
		}
	}
	return urls
}
