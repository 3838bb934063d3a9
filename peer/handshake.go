package peer

import (
	"bytes"
	"fmt"
	"io"
)

const protocolString = "BitTorrent protocol"

// handshake is the 68-byte protocol prologue exchanged before any framed
// message: <pstrlen=19><"BitTorrent protocol"><reserved[8]><infohash[20]><peerid[20]>.
type handshake struct {
	infoHash [20]byte
	peerID   [20]byte
}

func (h *handshake) serialize() []byte {
	buf := make([]byte, len(protocolString)+49)
	cursor := 1
	buf[0] = byte(len(protocolString))
	cursor += copy(buf[cursor:], protocolString)
	cursor += copy(buf[cursor:], make([]byte, 8)) // reserved
	cursor += copy(buf[cursor:], h.infoHash[:])
	copy(buf[cursor:], h.peerID[:])
	return buf
}

// readHandshake reads exactly 68 bytes (pstrlen=19 assumed) and parses them.
func readHandshake(r io.Reader) (*handshake, error) {
	buf := make([]byte, len(protocolString)+49)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("peer: read handshake: %w", err)
	}
	pstrlen := int(buf[0])
	if 1+pstrlen+48 != len(buf) {
		return nil, fmt.Errorf("peer: unexpected pstrlen %d", pstrlen)
	}
	var h handshake
	cursor := 1 + pstrlen + 8
	copy(h.infoHash[:], buf[cursor:cursor+20])
	cursor += 20
	copy(h.peerID[:], buf[cursor:cursor+20])
	return &h, nil
}

func verifyHandshake(h *handshake, wantInfoHash [20]byte) error {
	if !bytes.Equal(h.infoHash[:], wantInfoHash[:]) {
		return fmt.Errorf("peer: infohash mismatch: got %x want %x", h.infoHash, wantInfoHash)
	}
	return nil
}
